package ffmpeg

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/brutella/hc/log"
	"github.com/looplab/fsm"
)

// StreamID is the type of the stream identifier
type StreamID string

// Session states and events.
const (
	StatePending = "pending"
	StateActive  = "active"
	StateStopped = "stopped"

	eventStart = "start"
	eventStop  = "stop"
)

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventStart, Src: []string{StatePending}, Dst: StateActive},
			{Name: eventStop, Src: []string{StatePending, StateActive}, Dst: StateStopped},
		},
		fsm.Callbacks{},
	)
}

// PendingSession is created when transport parameters are negotiated
// and consumed when the stream starts.
type PendingSession struct {
	Address string
	IPv6    bool

	VideoPort        int
	VideoReturnPort  int
	VideoCryptoSuite byte
	// VideoSRTP is the SRTP master key and salt concatenated.
	VideoSRTP []byte
	VideoSSRC int32

	AudioPort        int
	AudioReturnPort  int
	AudioCryptoSuite byte
	AudioSRTP        []byte
	AudioSSRC        int32

	state *fsm.FSM
}

// ActiveSession holds what a running stream owns. ReturnProcess is only set
// when two-way audio is configured.
type ActiveSession struct {
	ID            StreamID
	Info          *PendingSession
	Socket        *net.UDPConn
	MainProcess   *Process
	ReturnProcess *Process

	liveness *liveness
	state    *fsm.FSM
}

// State returns the current state of the session.
func (a *ActiveSession) State() string {
	return a.state.Current()
}

// teardown releases everything the session owns. A failing step is logged
// and does not keep the following steps from running.
func (a *ActiveSession) teardown(name string) {
	if a.liveness != nil {
		a.liveness.stopTimer()
	}

	if a.Socket != nil {
		if err := a.Socket.Close(); err != nil {
			log.Info.Printf("[%s] Error occurred closing socket: %v", name, err)
		}
	}

	if a.MainProcess != nil {
		if err := a.MainProcess.Stop(); err != nil {
			log.Info.Printf("[%s] Error occurred terminating main FFmpeg process: %v", name, err)
		}
	}

	if a.ReturnProcess != nil {
		if err := a.ReturnProcess.Stop(); err != nil {
			log.Info.Printf("[%s] Error occurred terminating two-way FFmpeg process: %v", name, err)
		}
	}

	if a.state.Can(eventStop) {
		a.state.Event(context.Background(), eventStop)
	}
}

// listenUDP binds the liveness socket on a reserved return port.
func listenUDP(ipv6 bool, port int) (*net.UDPConn, error) {
	network, host := "udp4", "0.0.0.0"
	if ipv6 {
		network, host = "udp6", "::"
	}

	addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	return net.ListenUDP(network, addr)
}

// StreamNotFoundError is returned when a stream is started without being prepared.
type StreamNotFoundError struct {
	ID StreamID
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("StreamID(%x) not found: error finding session information", []byte(e.ID))
}

// NegotiationError is returned when transport parameters cannot be negotiated.
type NegotiationError struct {
	ID  StreamID
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("StreamID(%x) negotiation failed: %v", []byte(e.ID), e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// TransportError is a socket failure of an active session.
type TransportError struct {
	ID  StreamID
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("StreamID(%x) socket error: %v", []byte(e.ID), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
