package hkhoffmation

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
	"github.com/hoffmation/hkhoffmation/hsv"
	"github.com/hoffmation/hkhoffmation/recording"
)

// LocalStreamBase is the first stream id of recordings that were not
// requested by a controller.
const LocalStreamBase = 1 << 20

// Options configures a Controller.
type Options struct {
	Name       string
	Live       *ffmpeg.Manager
	Snapshots  *ffmpeg.SnapshotCache
	Recordings *recording.Manager
	// RecordingActive is the recording state until a controller changes it.
	RecordingActive bool
	// OnRecorded is called for every finished recording with the archive
	// path of local recordings.
	OnRecorded func(s recording.Summary, file string)
}

// Controller runs one camera accessory.
type Controller struct {
	Camera *Camera

	name       string
	live       *ffmpeg.Manager
	snapshots  *ffmpeg.SnapshotCache
	recordings *recording.Manager
	streaming  *streaming
	onRecorded func(recording.Summary, string)

	nextLocal int32

	mutex  sync.Mutex
	files  map[int]string
	motion bool
}

// NewController wires the services of cam to the managers in opts.
func NewController(cam *Camera, opts Options) *Controller {
	c := &Controller{
		Camera:     cam,
		name:       opts.Name,
		live:       opts.Live,
		snapshots:  opts.Snapshots,
		recordings: opts.Recordings,
		streaming:  newStreaming(opts.Name, opts.Live),
		onRecorded: opts.OnRecorded,
		files:      make(map[int]string),
	}

	for _, m := range cam.StreamManagement {
		c.streaming.setup(m)
	}
	c.setupRecording(opts.RecordingActive)

	cam.Motion.MotionDetected.SetValue(false)
	cam.Microphone.Mute.OnValueRemoteUpdate(func(mute bool) {
		log.Debug.Printf("[%s] Microphone muted: %v", c.name, mute)
	})
	cam.Speaker.Mute.OnValueRemoteUpdate(func(mute bool) {
		log.Debug.Printf("[%s] Speaker muted: %v", c.name, mute)
	})

	return c
}

func (c *Controller) setupRecording(active bool) {
	svc := c.Camera.Recording

	setTLV8(svc.SupportedCameraRecordingConfiguration.SetValue, func() ([]byte, error) {
		return hsv.SupportedRecordingConfiguration(recording.PrebufferLength, recording.FragmentLength, hsv.EventTriggerMotion)
	})
	setTLV8(svc.SupportedVideoRecordingConfiguration.SetValue, func() ([]byte, error) {
		return hsv.SupportedVideoConfiguration(hsv.DefaultResolutions)
	})
	setTLV8(svc.SupportedAudioRecordingConfiguration.SetValue, hsv.SupportedAudioConfiguration)
	setTLV8(c.Camera.DataStream.SupportedDataStreamTransportConfiguration.SetValue, hsv.SupportedDataStreamTransport)

	svc.SelectedCameraRecordingConfiguration.OnValueRemoteUpdate(func(buf []byte) {
		cfg, err := hsv.DecodeSelectedConfiguration(buf)
		if err != nil {
			log.Info.Printf("[%s] SelectedCameraRecordingConfiguration: %v", c.name, err)
			return
		}
		c.recordings.UpdateRecordingConfiguration(cfg)
	})

	svc.Active.OnValueRemoteUpdate(func(v int) {
		c.recordings.UpdateRecordingActive(v == 1)
	})
	if active {
		svc.Active.SetValue(1)
		c.recordings.UpdateRecordingActive(true)
	}

	c.Camera.DataStream.SetupDataStreamTransport.OnValueRemoteUpdate(func(buf []byte) {
		log.Info.Printf("[%s] Data stream transport is not available, recordings are archived locally", c.name)
		setTLV8Payload(c.Camera.DataStream.SetupDataStreamTransport, hsv.SetupDataStreamTransportResponse{
			Status: hsv.DataStreamStatusGenericError,
		})
	})
}

func setTLV8(set func([]byte), build func() ([]byte, error)) {
	buf, err := build()
	if err != nil {
		log.Info.Println(err)
		return
	}
	set(buf)
}

// Name returns the camera name.
func (c *Controller) Name() string {
	return c.name
}

// SnapshotJPEG returns the cached camera image.
func (c *Controller) SnapshotJPEG(ctx context.Context) ([]byte, error) {
	if c.snapshots == nil {
		return nil, ffmpeg.ErrNoSnapshot
	}
	return c.snapshots.Get(ctx)
}

// Snapshot returns the camera image scaled to fit width and height.
func (c *Controller) Snapshot(width, height uint) (*image.Image, error) {
	return c.live.Snapshot(context.Background(), width, height)
}

// Record starts a local recording that is closed after d. It uses the
// configuration selected by a controller, or the default one.
func (c *Controller) Record(ctx context.Context, d time.Duration, file string) (<-chan recording.Packet, error) {
	cfg := c.recordings.Configuration()
	if cfg == nil {
		cfg = recording.DefaultConfiguration()
	}
	id := LocalStreamBase + int(atomic.AddInt32(&c.nextLocal, 1))

	c.mutex.Lock()
	c.files[id] = file
	c.mutex.Unlock()

	packets, err := c.recordings.StartRecording(ctx, id, cfg)
	if err != nil {
		c.mutex.Lock()
		delete(c.files, id)
		c.mutex.Unlock()
		return nil, err
	}

	log.Info.Printf("[%s] Local recording %d for %s", c.name, id, d)
	time.AfterFunc(d, func() {
		c.recordings.CloseRecordingStream(id, recording.CloseNormal)
	})
	return packets, nil
}

// RecordingActive reports whether recording is enabled for the camera.
func (c *Controller) RecordingActive() bool {
	return c.recordings.RecordingActive()
}

// RecordingClosed reports a finished recording.
func (c *Controller) RecordingClosed(s recording.Summary) {
	c.mutex.Lock()
	file := c.files[s.StreamID]
	delete(c.files, s.StreamID)
	c.mutex.Unlock()

	if c.onRecorded != nil {
		c.onRecorded(s, file)
	}
}

// StreamInactive marks the stream management service of a live stream as
// available after the controller stopped sending.
func (c *Controller) StreamInactive(id ffmpeg.StreamID) {
	log.Info.Printf("[%s] Stream %s is inactive", c.name, id)
	c.streaming.ended(id)
}

// SetMotion updates the motion sensor and reports whether motion started.
func (c *Controller) SetMotion(detected bool) bool {
	c.mutex.Lock()
	started := detected && !c.motion
	changed := detected != c.motion
	c.motion = detected
	c.mutex.Unlock()

	if changed {
		log.Debug.Printf("[%s] Motion detected: %v", c.name, detected)
		c.Camera.Motion.MotionDetected.SetValue(detected)
	}
	return started
}

// SetConfig applies a new video config to sessions started afterwards.
func (c *Controller) SetConfig(cfg ffmpeg.VideoConfig) {
	c.live.SetConfig(cfg)
	c.recordings.SetConfig(cfg)
}

// Close stops all streams and recordings.
func (c *Controller) Close() {
	c.live.Close()
	c.recordings.Close()
}
