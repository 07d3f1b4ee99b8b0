package recording

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
	"github.com/hoffmation/hkhoffmation/metrics"
	"github.com/hoffmation/hkhoffmation/mp4"
)

const (
	// RestartDelay is the pause before the prebuffer transcode is started again.
	RestartDelay = 10 * time.Second

	acceptTimeout   = 30 * time.Second
	subscriberQueue = 256
)

// PrebufferOptions configures a Prebuffer.
type PrebufferOptions struct {
	Name      string
	Processor string
	// Source holds the transcoder input arguments.
	Source       []string
	Window       time.Duration
	RestartDelay time.Duration
	Debug        bool
	Metrics      *metrics.Metrics
}

type entry struct {
	box *mp4.Box
	at  time.Time
}

// Prebuffer runs a continuous pass-through transcode of a camera and keeps
// the boxes of the last Window. It has exactly one writer, its own transcode.
type Prebuffer struct {
	opts PrebufferOptions

	mutex       sync.Mutex
	ftyp        *mp4.Box
	moov        *mp4.Box
	entries     []entry
	subscribers map[chan *mp4.Box]struct{}
	cancel      context.CancelFunc
	done        chan struct{}

	now func() time.Time
}

// NewPrebuffer returns a stopped prebuffer.
func NewPrebuffer(opts PrebufferOptions) *Prebuffer {
	if opts.Window <= 0 {
		opts.Window = PrebufferLength
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = RestartDelay
	}

	return &Prebuffer{
		opts:        opts,
		subscribers: make(map[chan *mp4.Box]struct{}),
		now:         time.Now,
	}
}

// Start starts the background transcode. Calling it again while running has no effect.
func (p *Prebuffer) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cancel != nil {
		return
	}

	log.Info.Printf("[%s] start prebuffer", p.opts.Name)
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends the background transcode and disconnects all clients.
func (p *Prebuffer) Stop() {
	p.mutex.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mutex.Lock()
	for ch := range p.subscribers {
		delete(p.subscribers, ch)
		close(ch)
	}
	p.mutex.Unlock()
}

func (p *Prebuffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := p.session(ctx); err != nil && ctx.Err() == nil {
			log.Info.Printf("[%s] prebuffer: %v", p.opts.Name, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.RestartDelay):
			log.Info.Printf("[%s] restarting prebuffer", p.opts.Name)
		}
	}
}

// session runs one transcode until it ends or ctx is done.
func (p *Prebuffer) session(ctx context.Context) error {
	s, err := ffmpeg.StartFragmentedSession(ctx, ffmpeg.FragmentedOptions{
		Name:   p.opts.Name + "] [Prebuffer",
		Path:   p.opts.Processor,
		Input:  p.opts.Source,
		Output: []string{"-vcodec", "copy", "-an"},
		Debug:  p.opts.Debug,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	p.opts.Metrics.TranscoderStarted(p.opts.Name, metrics.KindPrebuffer)
	p.reset()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		box, err := s.Next()
		if err != nil {
			return err
		}
		p.add(box)
	}
}

// reset drops the boxes of a previous transcode.
func (p *Prebuffer) reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.ftyp, p.moov, p.entries = nil, nil, nil
}

// add stores a box, evicts what fell out of the window and forwards the box
// to connected clients.
func (p *Prebuffer) add(box *mp4.Box) {
	now := p.now()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch box.Type {
	case mp4.TypeFtyp:
		p.ftyp = box
	case mp4.TypeMoov:
		p.moov = box
	default:
		p.entries = append(p.entries, entry{box: box, at: now})
	}

	cutoff := now.Add(-p.opts.Window)
	i := 0
	for i < len(p.entries) && p.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.entries = append([]entry(nil), p.entries[i:]...)
	}

	for ch := range p.subscribers {
		select {
		case ch <- box:
		default:
			log.Info.Printf("[%s] prebuffer client too slow, disconnecting", p.opts.Name)
			delete(p.subscribers, ch)
			close(ch)
		}
	}
}

// Snapshot returns the init segment followed by the retained boxes of the last
// length, starting at a fragment. The returned slice is a copy.
func (p *Prebuffer) Snapshot(length time.Duration) ([]*mp4.Box, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.snapshot(length)
}

func (p *Prebuffer) snapshot(length time.Duration) ([]*mp4.Box, error) {
	if p.ftyp == nil || p.moov == nil {
		return nil, ErrNoPrebufferData
	}

	boxes := []*mp4.Box{p.ftyp, p.moov}
	cutoff := p.now().Add(-length)
	started := false
	for _, e := range p.entries {
		if e.at.Before(cutoff) {
			continue
		}
		if !started && e.box.Type != mp4.TypeMoof {
			continue
		}
		started = true
		boxes = append(boxes, e.box)
	}

	return boxes, nil
}

// Video serves the prebuffered history of length followed by the live boxes on
// a loopback port and returns the transcoder input arguments reading from it.
func (p *Prebuffer) Video(ctx context.Context, length time.Duration) ([]string, error) {
	l, err := ffmpeg.ListenLoopback(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan *mp4.Box, subscriberQueue)

	p.mutex.Lock()
	history, err := p.snapshot(length)
	if err == nil {
		p.subscribers[ch] = struct{}{}
	}
	p.mutex.Unlock()

	if err != nil {
		l.Close()
		return nil, err
	}

	go p.serve(l, history, ch)

	return []string{"-f", "mp4", "-i", fmt.Sprintf("tcp://127.0.0.1:%d", ffmpeg.ListenerPort(l))}, nil
}

func (p *Prebuffer) unsubscribe(ch chan *mp4.Box) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.subscribers[ch]; ok {
		delete(p.subscribers, ch)
		close(ch)
	}
}

// serve writes history and then live boxes to the one client of l.
func (p *Prebuffer) serve(l net.Listener, history []*mp4.Box, ch chan *mp4.Box) {
	defer p.unsubscribe(ch)

	if tl, ok := l.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(acceptTimeout))
	}
	conn, err := l.Accept()
	l.Close()
	if err != nil {
		log.Info.Printf("[%s] prebuffer client did not connect: %v", p.opts.Name, err)
		return
	}
	defer conn.Close()

	for _, box := range history {
		if _, err := box.WriteTo(conn); err != nil {
			log.Debug.Printf("[%s] prebuffer client: %v", p.opts.Name, err)
			return
		}
	}

	for box := range ch {
		if _, err := box.WriteTo(conn); err != nil {
			log.Debug.Printf("[%s] prebuffer client: %v", p.opts.Name, err)
			return
		}
	}
}
