package recording

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Default lengths of the pre-event history and of one recorded fragment.
const (
	PrebufferLength       = 4000 * time.Millisecond
	FragmentLength        = 4000 * time.Millisecond
	DefaultIFrameInterval = 4 * time.Second
)

var (
	// ErrNoConfiguration is returned when a recording is requested before
	// the controller selected a recording configuration.
	ErrNoConfiguration = errors.New("no recording configuration provided")
	// ErrNoPrebufferData is returned when the prebuffer has not produced an
	// init segment yet.
	ErrNoPrebufferData = errors.New("prebuffer has no data")
)

// Profile is an H.264 profile.
type Profile uint8

// H.264 profiles a controller may select.
const (
	ProfileBaseline Profile = iota
	ProfileMain
	ProfileHigh
)

func (p Profile) String() string {
	switch p {
	case ProfileHigh:
		return "high"
	case ProfileMain:
		return "main"
	}
	return "baseline"
}

// Level is an H.264 level.
type Level uint8

// H.264 levels a controller may select.
const (
	Level3_1 Level = iota
	Level3_2
	Level4_0
)

func (l Level) String() string {
	switch l {
	case Level4_0:
		return "4.0"
	case Level3_2:
		return "3.2"
	}
	return "3.1"
}

// AudioCodec is the audio codec of a recording.
type AudioCodec uint8

// Recording audio codecs.
const (
	AudioCodecAACLC AudioCodec = iota
	AudioCodecAACELD
)

func (c AudioCodec) String() string {
	if c == AudioCodecAACELD {
		return "AAC-ELD"
	}
	return "AAC-LC"
}

// Configuration is the recording configuration selected by the controller.
type Configuration struct {
	Profile Profile
	Level   Level
	Width   int
	Height  int
	FPS     int
	// Bitrate in kbps.
	Bitrate        int
	IFrameInterval time.Duration

	AudioCodec   AudioCodec
	SampleRate   int // kHz
	AudioBitrate int
	Channels     int

	FragmentLength  time.Duration
	PrebufferLength time.Duration
}

// DefaultConfiguration is used for recordings that are not requested by a
// controller, e.g. local recordings.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Profile:         ProfileHigh,
		Level:           Level4_0,
		Width:           1280,
		Height:          720,
		FPS:             30,
		Bitrate:         2000,
		IFrameInterval:  DefaultIFrameInterval,
		AudioCodec:      AudioCodecAACLC,
		SampleRate:      32,
		AudioBitrate:    64,
		Channels:        1,
		FragmentLength:  FragmentLength,
		PrebufferLength: PrebufferLength,
	}
}

// HistoryLength returns how much pre-event video a recording starts with.
func (c *Configuration) HistoryLength() time.Duration {
	if c.FragmentLength > 0 {
		return c.FragmentLength
	}
	return PrebufferLength
}

func (c *Configuration) String() string {
	return fmt.Sprintf("%dx%d@%dfps %dkbps h264 %s %s", c.Width, c.Height, c.FPS, c.Bitrate, c.Profile, c.Level)
}

// VideoArgs returns the encoder arguments of a recording. Recordings carry no audio.
func (c *Configuration) VideoArgs() []string {
	args := []string{
		"-an", "-sn", "-dn",
		"-codec:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-profile:v", c.Profile.String(),
		"-level:v", c.Level.String(),
		"-b:v", fmt.Sprintf("%dk", c.Bitrate),
	}

	interval := c.IFrameInterval
	if interval == 0 {
		interval = DefaultIFrameInterval
	}
	if interval > 0 {
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:eq(t,n_forced*%d)", int(interval.Seconds())))
	}

	return append(args, "-r", strconv.Itoa(c.FPS))
}

// CloseReason tells why a recording stream was closed. The values are the
// HomeKit data stream protocol reasons.
type CloseReason int

// Close reasons.
const (
	CloseNormal CloseReason = iota
	CloseNotAllowed
	CloseBusy
	CloseCancelled
	CloseUnsupported
	CloseUnexpectedFailure
	CloseTimeout
	CloseBadData
	CloseProtocolError
	CloseInvalidConfiguration
)

var closeReasons = []string{
	"NORMAL",
	"NOT_ALLOWED",
	"BUSY",
	"CANCELLED",
	"UNSUPPORTED",
	"UNEXPECTED_FAILURE",
	"TIMEOUT",
	"BAD_DATA",
	"PROTOCOL_ERROR",
	"INVALID_CONFIGURATION",
}

func (r CloseReason) String() string {
	if r >= 0 && int(r) < len(closeReasons) {
		return closeReasons[r]
	}
	return fmt.Sprintf("CloseReason(%d)", int(r))
}
