package hsv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/brutella/hc/tlv8"

	"github.com/hoffmation/hkhoffmation/recording"
)

var (
	// ErrUnsupportedCodec is returned for a selected video codec other than H.264.
	ErrUnsupportedCodec = errors.New("hsv: unsupported video codec")
	// ErrInvalidConfiguration is returned for a selection missing its video size.
	ErrInvalidConfiguration = errors.New("hsv: invalid recording configuration")
)

var sampleRates = map[uint8]int{
	SampleRate8Khz:  8,
	SampleRate16Khz: 16,
	SampleRate24Khz: 24,
	SampleRate32Khz: 32,
	SampleRate44Khz: 44,
	SampleRate48Khz: 48,
}

// DecodeSelectedConfiguration decodes the TLV8 value of the selected camera
// recording configuration characteristic.
func DecodeSelectedConfiguration(buf []byte) (c *recording.Configuration, err error) {
	// the tlv8 reader indexes into values without checking their length
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, r)
		}
	}()

	var sel SelectedCameraRecordingConfiguration
	if err := tlv8.Unmarshal(buf, &sel); err != nil {
		return nil, fmt.Errorf("hsv: %w", err)
	}

	return Configuration(sel)
}

// EventTriggers returns the event trigger bit mask.
func (c RecordingConfiguration) EventTriggers() uint64 {
	var b [8]byte
	copy(b[:], c.EventTriggerOptions)
	return binary.LittleEndian.Uint64(b[:])
}

func eventTriggerOptions(triggers uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, triggers)
	return b
}

// Configuration converts a selected configuration into a recording configuration.
func Configuration(sel SelectedCameraRecordingConfiguration) (*recording.Configuration, error) {
	if sel.Video.Codec != VideoCodecH264 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, sel.Video.Codec)
	}
	// the tlv8 decoder stops silently at the first missing value
	if sel.Video.Attributes.ImageWidth == 0 || sel.Video.Attributes.ImageHeight == 0 {
		return nil, ErrInvalidConfiguration
	}

	c := &recording.Configuration{
		Profile:         recording.Profile(sel.Video.Parameters.ProfileID),
		Level:           recording.Level(sel.Video.Parameters.Level),
		Width:           int(sel.Video.Attributes.ImageWidth),
		Height:          int(sel.Video.Attributes.ImageHeight),
		FPS:             int(sel.Video.Attributes.FrameRate),
		Bitrate:         int(sel.Video.Parameters.Bitrate),
		IFrameInterval:  time.Duration(sel.Video.Parameters.IFrameInterval) * time.Millisecond,
		AudioCodec:      recording.AudioCodec(sel.Audio.Codec),
		SampleRate:      sampleRates[sel.Audio.Parameters.SampleRate],
		AudioBitrate:    int(sel.Audio.Parameters.MaxBitrate),
		Channels:        int(sel.Audio.Parameters.Channels),
		PrebufferLength: time.Duration(sel.General.PrebufferLength) * time.Millisecond,
	}

	for _, mc := range sel.General.MediaContainerConfigurations {
		if mc.MediaContainerType != ContainerFragmentedMP4 {
			continue
		}
		for _, p := range mc.MediaContainerParameters {
			c.FragmentLength = time.Duration(p.FragmentLength) * time.Millisecond
		}
	}

	return c, nil
}

// Resolution is a width, height and frame rate the camera can record.
type Resolution struct {
	Width  uint16
	Height uint16
	FPS    uint8
}

// DefaultResolutions are offered to controllers for recording.
var DefaultResolutions = []Resolution{
	{1920, 1080, 30},
	{1280, 720, 30},
	{640, 360, 30},
}

// SupportedRecordingConfiguration encodes the general recording capabilities.
func SupportedRecordingConfiguration(prebuffer, fragment time.Duration, triggers uint64) ([]byte, error) {
	return tlv8.Marshal(RecordingConfiguration{
		PrebufferLength:     uint32(prebuffer / time.Millisecond),
		EventTriggerOptions: eventTriggerOptions(triggers),
		MediaContainerConfigurations: []MediaContainerConfiguration{{
			MediaContainerType: ContainerFragmentedMP4,
			MediaContainerParameters: []MediaContainerParameters{{
				FragmentLength: uint32(fragment / time.Millisecond),
			}},
		}},
	})
}

// SupportedVideoConfiguration encodes the H.264 recording capabilities for resolutions.
func SupportedVideoConfiguration(resolutions []Resolution) ([]byte, error) {
	attrs := make([]VideoAttributes, 0, len(resolutions))
	for _, r := range resolutions {
		attrs = append(attrs, VideoAttributes{ImageWidth: r.Width, ImageHeight: r.Height, FrameRate: r.FPS})
	}

	return tlv8.Marshal(SupportedVideoRecordingConfiguration{
		CodecConfigurations: []VideoConfiguration{{
			Codec: VideoCodecH264,
			VideoCodecParameters: []VideoCodecParameters{
				{ProfileID: ProfileBaseline, Level: Level3_1},
				{ProfileID: ProfileMain, Level: Level3_2},
				{ProfileID: ProfileHigh, Level: Level4},
			},
			VideoAttributes: attrs,
		}},
	})
}

// SupportedAudioConfiguration encodes the AAC-LC recording capabilities.
func SupportedAudioConfiguration() ([]byte, error) {
	return tlv8.Marshal(SupportedAudioRecordingConfiguration{
		CodecConfigurations: []AudioConfiguration{{
			Codec: AudioCodecAACLC,
			AudioCodecParameters: []AudioCodecParameters{{
				Channels:     1,
				BitrateModes: []byte{BitrateModeVariable},
				SampleRates:  []byte{SampleRate32Khz},
			}},
		}},
	})
}

// SupportedDataStreamTransport encodes the HomeKit data stream transport over TCP.
func SupportedDataStreamTransport() ([]byte, error) {
	return tlv8.Marshal(SupportedDataStreamTransportConfiguration{
		TransferTransportConfigurations: []TransferTransportConfiguration{{TransportType: TransportTypeHDS}},
		Version:                         9,
	})
}
