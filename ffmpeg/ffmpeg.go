package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"sync"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/metrics"
)

// FFMPEG lets you interact with video stream.
type FFMPEG interface {
	PrepareStream(context.Context, PrepareRequest) (PrepareResponse, error)
	HandleStreamRequest(StreamRequest) error
	StopStream(StreamID)
	ActiveStreams() int
	Snapshot(ctx context.Context, width, height uint) (*image.Image, error)
}

// Endpoint is one media direction of a prepare request.
type Endpoint struct {
	Port        int
	CryptoSuite byte
	SRTPKey     []byte
	SRTPSalt    []byte
}

// PrepareRequest carries the controller's transport parameters.
type PrepareRequest struct {
	SessionID StreamID
	Address   string
	IPv6      bool
	Video     Endpoint
	Audio     Endpoint
}

// ReturnEndpoint is the accessory side of one media direction.
type ReturnEndpoint struct {
	Port     int
	SSRC     int32
	SRTPKey  []byte
	SRTPSalt []byte
}

// PrepareResponse holds the negotiated accessory parameters. The SRTP key and
// salt are the controller's, echoed back.
type PrepareResponse struct {
	Video ReturnEndpoint
	Audio ReturnEndpoint
}

// RequestType is the kind of a stream request.
type RequestType int

// Stream request types.
const (
	RequestStart RequestType = iota
	RequestReconfigure
	RequestStop
)

// StreamRequest starts, reconfigures or stops a prepared stream.
type StreamRequest struct {
	SessionID StreamID
	Type      RequestType
	Video     VideoRequest
	Audio     AudioRequest
}

// Options configures a Manager.
type Options struct {
	// Name of the camera, used in log lines and metrics.
	Name      string
	Processor string
	Config    VideoConfig
	Snapshots *SnapshotCache
	Ports     *PortReserver
	Metrics   *metrics.Metrics
	// OnInactive is called when a controller stopped sending RTCP, before the
	// stream is stopped, so the controller side of the session can be ended too.
	OnInactive func(StreamID)
}

// Manager negotiates and runs the live streams of one camera.
type Manager struct {
	name       string
	processor  string
	snapshots  *SnapshotCache
	ports      *PortReserver
	metrics    *metrics.Metrics
	onInactive func(StreamID)

	mutex   *sync.Mutex
	cfg     VideoConfig
	pending map[StreamID]*PendingSession
	active  map[StreamID]*ActiveSession
}

// New returns a new live stream manager.
func New(opts Options) *Manager {
	ports := opts.Ports
	if ports == nil {
		ports = NewPortReserver(ReserveTimeout)
	}
	processor := opts.Processor
	if processor == "" {
		processor = DefaultProcessor
	}

	return &Manager{
		name:       opts.Name,
		processor:  processor,
		snapshots:  opts.Snapshots,
		ports:      ports,
		metrics:    opts.Metrics,
		onInactive: opts.OnInactive,
		mutex:      &sync.Mutex{},
		cfg:        opts.Config,
		pending:    make(map[StreamID]*PendingSession),
		active:     make(map[StreamID]*ActiveSession),
	}
}

// Config returns the configuration new sessions start with.
func (m *Manager) Config() VideoConfig {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.cfg
}

// SetConfig replaces the configuration for sessions started afterwards.
func (m *Manager) SetConfig(cfg VideoConfig) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cfg = cfg
}

// generateSSRC returns a random synchronization source identifier.
func generateSSRC() int32 {
	return int32(rand.Uint32())
}

func concat(key, salt []byte) []byte {
	b := make([]byte, 0, len(key)+len(salt))
	b = append(b, key...)
	return append(b, salt...)
}

// PrepareStream reserves the return ports, generates the SSRCs and remembers the
// session until it is started.
func (m *Manager) PrepareStream(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	log.Debug.Printf("[%s] prepareStream requested", m.name)

	videoReturnPort, err := m.ports.Reserve(ctx, req.IPv6)
	if err != nil {
		return PrepareResponse{}, &NegotiationError{ID: req.SessionID, Err: err}
	}
	audioReturnPort, err := m.ports.Reserve(ctx, req.IPv6)
	if err != nil {
		m.ports.Release(videoReturnPort)
		return PrepareResponse{}, &NegotiationError{ID: req.SessionID, Err: err}
	}

	s := &PendingSession{
		Address: req.Address,
		IPv6:    req.IPv6,

		VideoPort:        req.Video.Port,
		VideoReturnPort:  videoReturnPort,
		VideoCryptoSuite: req.Video.CryptoSuite,
		VideoSRTP:        concat(req.Video.SRTPKey, req.Video.SRTPSalt),
		VideoSSRC:        generateSSRC(),

		AudioPort:        req.Audio.Port,
		AudioReturnPort:  audioReturnPort,
		AudioCryptoSuite: req.Audio.CryptoSuite,
		AudioSRTP:        concat(req.Audio.SRTPKey, req.Audio.SRTPSalt),
		AudioSSRC:        generateSSRC(),

		state: newSessionFSM(),
	}

	m.mutex.Lock()
	m.pending[req.SessionID] = s
	m.mutex.Unlock()

	return PrepareResponse{
		Video: ReturnEndpoint{
			Port:     videoReturnPort,
			SSRC:     s.VideoSSRC,
			SRTPKey:  req.Video.SRTPKey,
			SRTPSalt: req.Video.SRTPSalt,
		},
		Audio: ReturnEndpoint{
			Port:     audioReturnPort,
			SSRC:     s.AudioSSRC,
			SRTPKey:  req.Audio.SRTPKey,
			SRTPSalt: req.Audio.SRTPSalt,
		},
	}, nil
}

// HandleStreamRequest dispatches a stream request. Reconfiguration is accepted
// but leaves the running transcode untouched.
func (m *Manager) HandleStreamRequest(req StreamRequest) error {
	switch req.Type {
	case RequestStart:
		return m.startStream(req)
	case RequestReconfigure:
		log.Debug.Printf("[%s] Received request to reconfigure: %d x %d, %d fps, %d kbps (Ignored)",
			m.name, req.Video.Width, req.Video.Height, req.Video.FPS, req.Video.Bitrate)
		return nil
	case RequestStop:
		m.StopStream(req.SessionID)
		return nil
	}

	return fmt.Errorf("unknown stream request type %d", req.Type)
}

func nativeOr(v int, unit string) string {
	if v > 0 {
		return fmt.Sprintf("%d%s", v, unit)
	}
	return "native" + unit
}

func (m *Manager) startStream(req StreamRequest) error {
	m.mutex.Lock()
	s, ok := m.pending[req.SessionID]
	if ok {
		delete(m.pending, req.SessionID)
	}
	cfg := m.cfg
	m.mutex.Unlock()

	if !ok {
		log.Info.Printf("[%s] Error finding session information.", m.name)
		return &StreamNotFoundError{req.SessionID}
	}

	if err := s.state.Event(context.Background(), eventStart); err != nil {
		return &NegotiationError{ID: req.SessionID, Err: err}
	}

	enc := cfg.Negotiate(req.Video)
	audio := ""
	if cfg.Audio {
		audio = fmt.Sprintf(" (%s)", req.Audio.Codec)
	}
	log.Info.Printf("[%s] Starting video stream: %s x %s, %s, %s%s", m.name,
		nativeOr(enc.Width, ""), nativeOr(enc.Height, ""), nativeOr(enc.FPS, " fps"), nativeOr(enc.Bitrate, " kbps"), audio)
	if cfg.Audio && audioArgs(cfg, s, req.Audio) == nil {
		log.Info.Printf("[%s] Unsupported audio codec requested: %s", m.name, req.Audio.Codec)
	}

	a := &ActiveSession{
		ID:    req.SessionID,
		Info:  s,
		state: s.state,
	}

	socket, err := listenUDP(s.IPv6, s.VideoReturnPort)
	if err != nil {
		m.abort(a)
		return &TransportError{ID: req.SessionID, Err: err}
	}
	a.Socket = socket

	a.MainProcess, err = StartProcess(ProcessOptions{
		Name:  m.name,
		Path:  m.processor,
		Args:  LiveArgs(cfg, s, enc, req.Video, req.Audio),
		Debug: cfg.Debug,
	})
	if err != nil {
		m.abort(a)
		return err
	}
	m.metrics.TranscoderStarted(m.name, metrics.KindLive)

	if cfg.TwoWayAudio() {
		a.ReturnProcess = m.startReturnAudio(cfg, s)
	}

	a.liveness = &liveness{
		name:    m.name,
		conn:    socket,
		timeout: livenessTimeout(req.Video.RTCPInterval),
		onTimeout: func() {
			log.Info.Printf("[%s] Device appears to be inactive. Stopping stream.", m.name)
			if m.onInactive != nil {
				m.onInactive(req.SessionID)
			}
			m.StopStream(req.SessionID)
		},
		onError: func(err error) {
			log.Info.Printf("[%s] %v", m.name, &TransportError{ID: req.SessionID, Err: err})
			m.StopStream(req.SessionID)
		},
		onPacket: func(typ string) {
			m.metrics.RTCPReceived(m.name, typ)
		},
	}

	m.mutex.Lock()
	previous := m.active[req.SessionID]
	m.active[req.SessionID] = a
	m.mutex.Unlock()

	if previous != nil {
		previous.teardown(m.name)
		m.metrics.LiveSessionStopped(m.name)
	}
	m.metrics.LiveSessionStarted(m.name)

	a.liveness.start()
	go m.watchProcess(a)

	return nil
}

func (m *Manager) startReturnAudio(cfg VideoConfig, s *PendingSession) *Process {
	sdp, err := ReturnAudioSDP(s)
	if err != nil {
		log.Info.Printf("[%s] two-way audio SDP: %v", m.name, err)
		return nil
	}

	p, err := StartProcess(ProcessOptions{
		Name:  m.name + "] [Two-way",
		Path:  m.processor,
		Args:  ReturnAudioArgs(cfg),
		Stdin: sdp,
		Debug: cfg.DebugReturn,
	})
	if err != nil {
		log.Info.Printf("[%s] two-way audio: %v", m.name, err)
		return nil
	}
	m.metrics.TranscoderStarted(m.name, metrics.KindReturnAudio)

	return p
}

// abort releases a session that failed to start.
func (m *Manager) abort(a *ActiveSession) {
	a.teardown(m.name)
	m.ports.Release(a.Info.VideoReturnPort)
	m.ports.Release(a.Info.AudioReturnPort)
}

// watchProcess stops the session once its main transcoder exits.
func (m *Manager) watchProcess(a *ActiveSession) {
	err := a.MainProcess.Wait()

	m.mutex.Lock()
	current := m.active[a.ID] == a
	m.mutex.Unlock()

	if current {
		log.Info.Printf("[%s] FFmpeg exited: %v", m.name, err)
		m.StopStream(a.ID)
	}
}

// StopStream tears down a stream. It is a no-op for unknown or already stopped streams.
func (m *Manager) StopStream(id StreamID) {
	m.mutex.Lock()
	a := m.active[id]
	delete(m.active, id)
	s := m.pending[id]
	delete(m.pending, id)
	m.mutex.Unlock()

	if s != nil {
		m.ports.Release(s.VideoReturnPort)
		m.ports.Release(s.AudioReturnPort)
	}
	if a == nil {
		return
	}

	log.Debug.Printf("[%s] Stopping video stream.", m.name)
	a.teardown(m.name)
	m.ports.Release(a.Info.VideoReturnPort)
	m.ports.Release(a.Info.AudioReturnPort)
	m.metrics.LiveSessionStopped(m.name)
	log.Debug.Printf("[%s] Stopped video stream.", m.name)
}

// ActiveStreams returns the number of running streams.
func (m *Manager) ActiveStreams() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.active)
}

// Session returns the running session with the id.
func (m *Manager) Session(id StreamID) (*ActiveSession, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	a, ok := m.active[id]
	return a, ok
}

// Close stops all streams.
func (m *Manager) Close() {
	m.mutex.Lock()
	ids := make([]StreamID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mutex.Unlock()

	for _, id := range ids {
		m.StopStream(id)
	}
}

// Snapshot returns the cached still image scaled to the requested size.
func (m *Manager) Snapshot(ctx context.Context, width, height uint) (*image.Image, error) {
	if m.snapshots == nil {
		return nil, ErrNoSnapshot
	}

	img, err := m.snapshots.Image(ctx, width, height)
	if err != nil {
		log.Info.Printf("[%s] Error fetching snapshot: %v", m.name, err)
		return nil, err
	}

	return img, nil
}
