// Package hsv holds the TLV8 types of HomeKit Secure Video recording management.
package hsv

// Codec and container values.
const (
	VideoCodecH264 = 0

	ProfileBaseline = 0
	ProfileMain     = 1
	ProfileHigh     = 2

	Level3_1 = 0
	Level3_2 = 1
	Level4   = 2

	AudioCodecAACLC  = 0
	AudioCodecAACELD = 1

	BitrateModeVariable = 0
	BitrateModeConstant = 1

	SampleRate8Khz  = 0
	SampleRate16Khz = 1
	SampleRate24Khz = 2
	SampleRate32Khz = 3
	SampleRate44Khz = 4
	SampleRate48Khz = 5

	ContainerFragmentedMP4 = 0
	TransportTypeHDS       = 0

	EventTriggerMotion   = 0x01
	EventTriggerDoorbell = 0x02
)

// SelectedCameraRecordingConfiguration is written by the controller to select
// one of the supported configurations.
type SelectedCameraRecordingConfiguration struct {
	General RecordingConfiguration     `tlv8:"1"`
	Video   SelectedVideoConfiguration `tlv8:"2"`
	Audio   SelectedAudioConfiguration `tlv8:"3"`
}

type SupportedVideoRecordingConfiguration struct {
	CodecConfigurations []VideoConfiguration `tlv8:"1"`
}

type SupportedAudioRecordingConfiguration struct {
	CodecConfigurations []AudioConfiguration `tlv8:"1"`
}

type SupportedDataStreamTransportConfiguration struct {
	TransferTransportConfigurations []TransferTransportConfiguration `tlv8:"1"`
	Version                         uint8                            `tlv8:"2"`
}

type TransferTransportConfiguration struct {
	TransportType uint8 `tlv8:"1"`
}

type RecordingConfiguration struct {
	// PrebufferLength in milliseconds.
	PrebufferLength uint32 `tlv8:"1"`
	// EventTriggerOptions is a bit mask sent as a little endian uint64.
	EventTriggerOptions          []byte                        `tlv8:"2"`
	MediaContainerConfigurations []MediaContainerConfiguration `tlv8:"3"`
}

type MediaContainerConfiguration struct {
	MediaContainerType       uint8                      `tlv8:"1"`
	MediaContainerParameters []MediaContainerParameters `tlv8:"2"`
}

type MediaContainerParameters struct {
	// FragmentLength in milliseconds.
	FragmentLength uint32 `tlv8:"1"`
}

type VideoConfiguration struct {
	Codec                uint8                  `tlv8:"1"`
	VideoCodecParameters []VideoCodecParameters `tlv8:"2"`
	VideoAttributes      []VideoAttributes      `tlv8:"3"`
}

type VideoCodecParameters struct {
	ProfileID uint8 `tlv8:"1"`
	Level     uint8 `tlv8:"2"`
}

type SelectedVideoConfiguration struct {
	Codec      uint8                        `tlv8:"1"`
	Parameters SelectedVideoCodecParameters `tlv8:"2"`
	Attributes VideoAttributes              `tlv8:"3"`
}

type SelectedVideoCodecParameters struct {
	ProfileID uint8 `tlv8:"1"`
	Level     uint8 `tlv8:"2"`
	// Bitrate in kbps.
	Bitrate uint32 `tlv8:"3"`
	// IFrameInterval in milliseconds.
	IFrameInterval uint32 `tlv8:"4"`
}

type VideoAttributes struct {
	ImageWidth  uint16 `tlv8:"1"`
	ImageHeight uint16 `tlv8:"2"`
	FrameRate   uint8  `tlv8:"3"`
}

type AudioConfiguration struct {
	Codec                uint8                  `tlv8:"1"`
	AudioCodecParameters []AudioCodecParameters `tlv8:"2"`
}

type AudioCodecParameters struct {
	Channels     uint8  `tlv8:"1"`
	BitrateModes []byte `tlv8:"2"`
	SampleRates  []byte `tlv8:"3"`
}

type SelectedAudioConfiguration struct {
	Codec      uint8                        `tlv8:"1"`
	Parameters SelectedAudioCodecParameters `tlv8:"2"`
}

type SelectedAudioCodecParameters struct {
	Channels    uint8 `tlv8:"1"`
	BitrateMode uint8 `tlv8:"2"`
	SampleRate  uint8 `tlv8:"3"`
	// MaxBitrate in kbps.
	MaxBitrate uint32 `tlv8:"4"`
}

// Data stream setup status values.
const (
	DataStreamStatusSuccess      = 0
	DataStreamStatusGenericError = 1
	DataStreamStatusBusy         = 2
)

// SetupDataStreamTransportResponse answers a data stream setup request.
type SetupDataStreamTransportResponse struct {
	Status uint8 `tlv8:"1"`
}
