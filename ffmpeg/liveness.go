package ffmpeg

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/brutella/hc/log"
	"github.com/pion/rtcp"
)

// defaultRTCPInterval is used when the controller did not announce one.
const defaultRTCPInterval = 500 * time.Millisecond

// livenessFactor multiplies the RTCP interval into the inactivity timeout.
const livenessFactor = 5

// liveness watches the video return port. The controller sends its RTCP
// reports there while it is watching; media itself leaves through the
// transcoder's own sockets. Every datagram re-arms the inactivity timer.
type liveness struct {
	name    string
	conn    *net.UDPConn
	timeout time.Duration

	mu    sync.Mutex
	timer *time.Timer

	onTimeout func()
	onError   func(error)
	onPacket  func(typ string)
}

func livenessTimeout(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = defaultRTCPInterval
	}
	return interval * livenessFactor
}

// start arms the timer and runs the read loop until the socket is closed.
func (l *liveness) start() {
	l.mu.Lock()
	l.timer = time.AfterFunc(l.timeout, l.onTimeout)
	l.mu.Unlock()

	go l.run()
}

func (l *liveness) run() {
	buffer := make([]byte, 2048)

	for {
		n, addr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.onError(err)
			}
			return
		}

		l.mu.Lock()
		if l.timer != nil {
			l.timer.Reset(l.timeout)
		}
		l.mu.Unlock()

		typ := packetType(buffer[:n])
		if l.onPacket != nil {
			l.onPacket(typ)
		}
		log.Debug.Printf("[%s] %d bytes %s from %s", l.name, n, typ, addr)
	}
}

func (l *liveness) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// packetType names the RTCP packet type of a datagram. The header of an
// SRTCP packet is not encrypted.
func packetType(buf []byte) string {
	var h rtcp.Header
	if err := h.Unmarshal(buf); err != nil {
		return "unknown"
	}
	return h.Type.String()
}
