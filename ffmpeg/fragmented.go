package ffmpeg

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/mp4"
)

// drainTimeout bounds reading what the transcoder wrote before it exited.
var drainTimeout = 5 * time.Second

// FragmentedOptions describes a fragmented MP4 transcode.
type FragmentedOptions struct {
	Name   string
	Path   string
	Input  []string
	Output []string
	Debug  bool
}

// FragmentedSession pairs the socket a transcoder writes fragmented MP4 to,
// the transcoder process and the boxes read from the socket.
type FragmentedSession struct {
	Conn    net.Conn
	Process *Process

	boxes     *mp4.Reader
	closeOnce sync.Once
}

type accepted struct {
	conn net.Conn
	err  error
}

// StartFragmentedSession listens on a loopback port, spawns the transcoder writing
// to it and waits for its one connection. It fails when the process exits or ctx is
// done before the transcoder connected.
func StartFragmentedSession(ctx context.Context, opts FragmentedOptions) (*FragmentedSession, error) {
	l, err := ListenLoopback(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	p, err := StartProcess(ProcessOptions{
		Name:  opts.Name,
		Path:  opts.Path,
		Args:  FragmentedArgs(opts.Input, opts.Output, ListenerPort(l), opts.Debug),
		Debug: opts.Debug,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan accepted, 1)
	go func() {
		conn, err := l.Accept()
		ch <- accepted{conn, err}
	}()

	var res accepted
	select {
	case res = <-ch:
	case <-p.Done():
		// a short run may connect and exit before the accept is seen
		select {
		case res = <-ch:
		default:
			l.Close()
			if res = <-ch; res.conn == nil {
				return nil, fmt.Errorf("transcoder exited before connecting: %v", p.Wait())
			}
		}
	case <-ctx.Done():
		l.Close()
		p.Kill()
		if res = <-ch; res.conn != nil {
			res.conn.Close()
		}
		return nil, ctx.Err()
	}

	if res.err != nil {
		p.Kill()
		return nil, res.err
	}

	s := &FragmentedSession{
		Conn:    res.conn,
		Process: p,
		boxes:   mp4.NewReader(res.conn),
	}

	// Once the transcoder is gone, whatever it wrote is still read,
	// but a reader must not wait for more.
	go func() {
		<-p.Done()
		res.conn.SetReadDeadline(time.Now().Add(drainTimeout))
	}()

	return s, nil
}

// Next returns the next box written by the transcoder.
func (s *FragmentedSession) Next() (*mp4.Box, error) {
	return s.boxes.Next()
}

// Close kills the transcoder and destroys the socket. It is safe to call more than once.
func (s *FragmentedSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.Process.Kill(); err != nil {
			log.Info.Println("kill transcoder:", err)
		}
		if err := s.Conn.Close(); err != nil {
			log.Info.Println("close socket:", err)
		}
	})
	return nil
}
