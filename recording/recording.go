package recording

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/brutella/hc/log"
	"github.com/looplab/fsm"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
	"github.com/hoffmation/hkhoffmation/metrics"
	"github.com/hoffmation/hkhoffmation/mp4"
)

// lastPacketTimeout bounds how long the final packet waits for a consumer.
var lastPacketTimeout = 10 * time.Second

// Session states and events.
const (
	StateIdle      = "idle"
	StateStreaming = "streaming"
	StateClosed    = "closed"

	eventStream = "stream"
	eventClose  = "close"
)

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStream, Src: []string{StateIdle}, Dst: StateStreaming},
			{Name: eventClose, Src: []string{StateIdle, StateStreaming}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
}

// Summary describes a finished recording stream.
type Summary struct {
	StreamID int
	Camera   string
	Started  time.Time
	Ended    time.Time
	// Segments counts media fragments; the init segment is not counted.
	Segments int
	Bytes    int
	Reason   CloseReason
}

// StartFunc starts the transcode of a recording.
type StartFunc func(ctx context.Context, c *Configuration) (Source, error)

// Options configures a Manager.
type Options struct {
	Name      string
	Processor string
	Config    ffmpeg.VideoConfig
	// Prebuffer is used when the video config enables prebuffering.
	Prebuffer *Prebuffer
	Metrics   *metrics.Metrics
	// OnClosed is called once for every finished recording stream.
	OnClosed func(Summary)
}

type session struct {
	id      int
	source  Source
	state   *fsm.FSM
	started time.Time
	closed  chan struct{}

	mutex     sync.Mutex
	reason    CloseReason
	closeOnce sync.Once
}

// close cancels the session. Only the first reason is kept.
func (s *session) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		s.reason = reason
		s.mutex.Unlock()

		close(s.closed)
		if err := s.source.Close(); err != nil {
			log.Info.Println("close recording source:", err)
		}
		if s.state.Can(eventClose) {
			s.state.Event(context.Background(), eventClose)
		}
	})
}

// Manager runs the recording streams of one camera, at most one per stream id.
type Manager struct {
	name      string
	processor string
	prebuffer *Prebuffer
	metrics   *metrics.Metrics
	onClosed  func(Summary)
	start     StartFunc

	mutex         sync.Mutex
	cfg           ffmpeg.VideoConfig
	active        bool
	configuration *Configuration
	sessions      map[int]*session
}

// NewManager returns a recording manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		name:      opts.Name,
		processor: opts.Processor,
		prebuffer: opts.Prebuffer,
		metrics:   opts.Metrics,
		onClosed:  opts.OnClosed,
		cfg:       opts.Config,
		sessions:  make(map[int]*session),
	}
	m.start = m.startSession
	return m
}

// SetConfig replaces the video config for recordings started afterwards.
func (m *Manager) SetConfig(cfg ffmpeg.VideoConfig) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cfg = cfg
}

// UpdateRecordingActive records whether the controller has recording enabled.
// Enabling it starts the prebuffer when one is configured.
func (m *Manager) UpdateRecordingActive(active bool) {
	log.Info.Printf("[%s] Recording active status changed to: %v", m.name, active)

	m.mutex.Lock()
	m.active = active
	prebuffer := m.cfg.Prebuffer && m.prebuffer != nil
	m.mutex.Unlock()

	if active && prebuffer {
		m.prebuffer.Start()
	}
}

// RecordingActive reports the last state set by UpdateRecordingActive.
func (m *Manager) RecordingActive() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.active
}

// UpdateRecordingConfiguration stores the configuration selected by the
// controller. A nil configuration clears it.
func (m *Manager) UpdateRecordingConfiguration(c *Configuration) {
	if c != nil {
		log.Info.Printf("[%s] Recording configuration updated: %s", m.name, c)
	} else {
		log.Info.Printf("[%s] Recording configuration cleared", m.name)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.configuration = c
}

// Configuration returns the selected recording configuration.
func (m *Manager) Configuration() *Configuration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.configuration
}

// HandleRecordingStreamRequest starts a recording stream and returns its packets.
// A running stream with the same id is closed with CloseBusy first. The channel
// delivers fragments in order and is closed after the last packet.
func (m *Manager) HandleRecordingStreamRequest(ctx context.Context, streamID int) (<-chan Packet, error) {
	c := m.Configuration()
	if c == nil {
		return nil, ErrNoConfiguration
	}
	return m.StartRecording(ctx, streamID, c)
}

// StartRecording starts a recording stream with configuration c regardless of
// the configuration selected by the controller.
func (m *Manager) StartRecording(ctx context.Context, streamID int, c *Configuration) (<-chan Packet, error) {
	if c == nil {
		return nil, ErrNoConfiguration
	}

	m.mutex.Lock()
	existing := m.sessions[streamID]
	m.mutex.Unlock()

	if existing != nil {
		m.CloseRecordingStream(streamID, CloseBusy)
	}

	source, err := m.start(ctx, c)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:      streamID,
		source:  source,
		state:   newSessionFSM(),
		started: time.Now(),
		closed:  make(chan struct{}),
	}
	s.state.Event(context.Background(), eventStream)

	m.mutex.Lock()
	previous := m.sessions[streamID]
	m.sessions[streamID] = s
	m.mutex.Unlock()

	if previous != nil {
		previous.close(CloseBusy)
	}

	log.Info.Printf("[%s] Recording started", m.name)
	m.metrics.RecordingStarted(m.name)

	out := make(chan Packet)
	go m.stream(ctx, s, out)

	return out, nil
}

// CloseRecordingStream cancels a recording stream. It is a no-op for unknown ids.
func (m *Manager) CloseRecordingStream(streamID int, reason CloseReason) {
	log.Info.Printf("[%s] Recording stream closed for stream ID: %d, reason: %s", m.name, streamID, reason)

	m.mutex.Lock()
	s, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	m.mutex.Unlock()

	if ok {
		s.close(reason)
	}
}

// Close cancels all recording streams.
func (m *Manager) Close() {
	m.mutex.Lock()
	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mutex.Unlock()

	for _, id := range ids {
		m.CloseRecordingStream(id, CloseNormal)
	}
}

// ActiveRecordings returns the number of running recording streams.
func (m *Manager) ActiveRecordings() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.sessions)
}

// stream forwards the fragments of a session and always ends with the last packet.
func (m *Manager) stream(ctx context.Context, s *session, out chan<- Packet) {
	defer close(out)

	var (
		f        Fragmenter
		segments int
		bytes    int
		endErr   error
	)

loop:
	for {
		box, err := s.source.Next()
		if err != nil {
			endErr = err
			break
		}
		log.Debug.Printf("[%s] mp4 box type %s and length: %d", m.name, box.Type, box.Length)

		fragment := f.Add(box)
		if fragment == nil {
			continue
		}

		select {
		case out <- Packet{Data: fragment}:
		case <-s.closed:
			break loop
		case <-ctx.Done():
			break loop
		}

		bytes += len(fragment)
		if box.Type == mp4.TypeMdat {
			segments++
		}
		m.metrics.FragmentSent(m.name)
	}

	if f.Pending() > 0 {
		log.Debug.Printf("[%s] dropping %d bytes of an incomplete fragment", m.name, f.Pending())
	}
	log.Info.Printf("[%s] Recording completed. %d segments, %v", m.name, segments, endErr)

	m.mutex.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mutex.Unlock()
	s.close(endReason(ctx, endErr))
	m.metrics.RecordingStopped(m.name)

	timer := time.NewTimer(lastPacketTimeout)
	defer timer.Stop()
	select {
	case out <- lastPacket():
	case <-ctx.Done():
	case <-timer.C:
		log.Info.Printf("[%s] nobody took the last packet of stream %d", m.name, s.id)
	}

	if m.onClosed != nil {
		s.mutex.Lock()
		reason := s.reason
		s.mutex.Unlock()

		m.onClosed(Summary{
			StreamID: s.id,
			Camera:   m.name,
			Started:  s.started,
			Ended:    time.Now(),
			Segments: segments,
			Bytes:    bytes,
			Reason:   reason,
		})
	}
}

// endReason classifies how a stream ended when nobody closed it explicitly.
func endReason(ctx context.Context, err error) CloseReason {
	switch {
	case ctx.Err() != nil:
		return CloseCancelled
	case err == nil,
		errors.Is(err, mp4.ErrStreamEnded),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded):
		return CloseNormal
	}
	return CloseUnexpectedFailure
}

// startSession spawns the recording transcode, reading from the prebuffer when
// it has data and from the camera source otherwise.
func (m *Manager) startSession(ctx context.Context, c *Configuration) (Source, error) {
	m.mutex.Lock()
	cfg := m.cfg
	m.mutex.Unlock()

	input := cfg.SourceArgs()
	if cfg.Prebuffer && m.prebuffer != nil {
		args, err := m.prebuffer.Video(ctx, c.HistoryLength())
		if err == nil {
			input = args
		} else {
			log.Info.Printf("[%s] Recording without prebuffer: %v", m.name, err)
		}
	}

	log.Debug.Printf("[%s] Start recording...", m.name)
	s, err := ffmpeg.StartFragmentedSession(ctx, ffmpeg.FragmentedOptions{
		Name:   m.name,
		Path:   m.processor,
		Input:  input,
		Output: c.VideoArgs(),
		Debug:  cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	m.metrics.TranscoderStarted(m.name, metrics.KindRecording)

	return s, nil
}
