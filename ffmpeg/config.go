package ffmpeg

import (
	"strings"
)

// Defaults applied when the matching VideoConfig field is not set.
const (
	DefaultVideoCodec     = "libx264"
	DefaultPacketSize     = 1316
	DefaultEncoderOptions = "-preset ultrafast -tune zerolatency"
	DefaultProcessor      = "ffmpeg"

	// CodecCopy passes the source video through without re-encoding.
	CodecCopy = "copy"
)

// VideoConfig describes how one camera is transcoded.
// Numeric zero values mean "not set". A VideoConfig is never modified
// after it has been handed to a session.
type VideoConfig struct {
	// Source holds the transcoder input arguments, e.g. "-i rtsp://host/stream".
	Source            string
	StillImageSource  string
	ReturnAudioTarget string
	MaxStreams        int
	MaxWidth          int
	MaxHeight         int
	MaxFPS            int
	MaxBitrate        int
	ForceMax          bool
	VCodec            string
	PacketSize        int
	VideoFilter       string
	EncoderOptions    string
	MapVideo          string
	MapAudio          string
	Audio             bool
	Debug             bool
	DebugReturn       bool
	Recording         bool
	Prebuffer         bool
}

// Codec returns the configured video codec or DefaultVideoCodec.
func (c VideoConfig) Codec() string {
	if c.VCodec == "" {
		return DefaultVideoCodec
	}
	return c.VCodec
}

// IsPassThrough reports whether video is copied without re-encoding.
func (c VideoConfig) IsPassThrough() bool {
	return c.Codec() == CodecCopy
}

// MTU returns the RTP packet size; the size requested by the controller is not used.
func (c VideoConfig) MTU() int {
	if c.PacketSize <= 0 {
		return DefaultPacketSize
	}
	return c.PacketSize
}

// Encoder returns the encoder options, defaulting to low latency settings for libx264.
func (c VideoConfig) Encoder() string {
	if c.EncoderOptions == "" && c.Codec() == DefaultVideoCodec {
		return DefaultEncoderOptions
	}
	return c.EncoderOptions
}

// SourceArgs splits the source into an argument vector.
func (c VideoConfig) SourceArgs() []string {
	return strings.Fields(c.Source)
}

// SnapshotSourceArgs returns the still image source, falling back to the video source.
func (c VideoConfig) SnapshotSourceArgs() []string {
	if c.StillImageSource != "" {
		return strings.Fields(c.StillImageSource)
	}
	return c.SourceArgs()
}

// TwoWayAudio reports whether a return audio process is started for live sessions.
func (c VideoConfig) TwoWayAudio() bool {
	return c.ReturnAudioTarget != ""
}
