package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/brutella/hc/log"
	"github.com/patrickmn/go-cache"
)

// Port ranges and retry limits for local sockets.
const (
	// MinListenPort and MaxListenPort bound the loopback port a fragmented
	// MP4 transcode writes to.
	MinListenPort = 10000
	MaxListenPort = 40000
	// ListenAttempts caps the random port binds before giving up.
	ListenAttempts = 20
	// ReserveTimeout keeps a handed out UDP port from being handed out again.
	ReserveTimeout = 15 * time.Second
	// ReserveAttempts caps the ephemeral UDP binds of one reservation.
	ReserveAttempts = 10
)

var retryBackoff = 10 * time.Millisecond

// ErrPortUnavailable is returned when no local port could be bound.
var ErrPortUnavailable = errors.New("no local port available")

// PortReserver hands out ephemeral UDP ports chosen by the operating system.
// A port stays reserved for the reservation timeout, so the video and audio
// return ports of a session never collide even before they are bound.
type PortReserver struct {
	reserved *cache.Cache
	attempts int
}

// NewPortReserver returns a reserver keeping ports for timeout.
func NewPortReserver(timeout time.Duration) *PortReserver {
	return &PortReserver{
		reserved: cache.New(timeout, 2*timeout),
		attempts: ReserveAttempts,
	}
}

// Reserve returns a free UDP port on the wildcard address of the IP version.
func (r *PortReserver) Reserve(ctx context.Context, ipv6 bool) (int, error) {
	network, addr := "udp4", "0.0.0.0:0"
	if ipv6 {
		network, addr = "udp6", "[::]:0"
	}

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		port, err := ephemeralPort(network, addr)
		if err == nil {
			if err = r.reserved.Add(portKey(port), struct{}{}, cache.DefaultExpiration); err == nil {
				return port, nil
			}
		}
		lastErr = err

		if err := sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("%w: %v", ErrPortUnavailable, lastErr)
}

// Release makes a port available for reservation again.
func (r *PortReserver) Release(port int) {
	r.reserved.Delete(portKey(port))
}

func portKey(port int) string {
	return strconv.Itoa(port)
}

func ephemeralPort(network, addr string) (int, error) {
	conn, err := net.ListenPacket(network, addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// ListenLoopback binds a TCP listener on 127.0.0.1 at a random port between
// MinListenPort and MaxListenPort, retrying other ports until a bind succeeds.
func ListenLoopback(ctx context.Context) (net.Listener, error) {
	var lastErr error
	for attempt := 1; attempt <= ListenAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		port := MinListenPort + rand.Intn(MaxListenPort-MinListenPort+1)
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		log.Info.Println("Error while listening to the server:", err)
		lastErr = err

		if err := sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrPortUnavailable, lastErr)
}

// ListenerPort returns the TCP port of l.
func ListenerPort(l net.Listener) int {
	return l.Addr().(*net.TCPAddr).Port
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
