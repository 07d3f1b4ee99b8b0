package ffmpeg

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hc/log"
	"golang.org/x/sys/unix"
)

// stopGrace is how long a process may take to exit after SIGINT before it is killed.
var stopGrace = 3 * time.Second

// ProcessOptions describes a transcoder process.
type ProcessOptions struct {
	// Name prefixes forwarded output lines, e.g. "Front Door" or "Front Door] [Two-way".
	Name string
	Path string
	Args []string
	// Stdin is written to the process input, which is closed afterwards.
	Stdin string
	// Debug forwards stdout and stderr to the debug log.
	Debug bool
}

// Process is a spawned transcoder.
// Stop and Kill are idempotent and safe to call after the process exited.
type Process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	stopOnce sync.Once
	stopErr  error
}

// StartProcess spawns the process and starts waiting for it in the background.
func StartProcess(opts ProcessOptions) (*Process, error) {
	path := opts.Path
	if path == "" {
		path = DefaultProcessor
	}

	cmd := exec.Command(path, opts.Args...)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	if opts.Debug {
		cmd.Stdout = &lineWriter{name: opts.Name}
		cmd.Stderr = &lineWriter{name: opts.Name}
	}

	log.Debug.Printf("[%s] %s %s", opts.Name, path, strings.Join(opts.Args, " "))

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		name: opts.Name,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
		log.Debug.Printf("[%s] process %d exited: %v", p.name, cmd.Process.Pid, p.err)
	}()

	return p, nil
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exited and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Stop interrupts the process and kills it when it does not exit within the grace period.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if p.Exited() {
			return
		}

		if err := p.signal(unix.SIGINT); err != nil {
			p.stopErr = err
			return
		}

		select {
		case <-p.done:
		case <-time.After(stopGrace):
			log.Info.Printf("[%s] process %d did not exit, killing it", p.name, p.Pid())
			p.stopErr = p.signal(unix.SIGKILL)
			<-p.done
		}
	})

	return p.stopErr
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	return p.signal(unix.SIGKILL)
}

func (p *Process) signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// lineWriter forwards complete output lines to the debug log.
type lineWriter struct {
	name string
	mu   sync.Mutex
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			log.Debug.Printf("[%s] %s", w.name, line)
		}
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}
