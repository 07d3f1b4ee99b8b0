package hsv

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/brutella/hc/tlv8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/recording"
)

func tlv(tag byte, values ...[]byte) []byte {
	var payload []byte
	for _, v := range values {
		payload = append(payload, v...)
	}
	return append([]byte{tag, byte(len(payload))}, payload...)
}

func u8(v uint8) []byte { return []byte{v} }

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func general() []byte {
	return tlv(1,
		tlv(1, u32(4000)),
		tlv(2, u64(EventTriggerMotion)),
		tlv(3, tlv(1, u8(ContainerFragmentedMP4)), tlv(2, tlv(1, u32(4000)))),
	)
}

func videoParameters(bitrate []byte) []byte {
	return tlv(2, tlv(1, u8(ProfileHigh)), tlv(2, u8(Level4)), tlv(3, bitrate), tlv(4, u32(4000)))
}

func videoAttributes() []byte {
	return tlv(3, tlv(1, u16(1920)), tlv(2, u16(1080)), tlv(3, u8(30)))
}

func audio() []byte {
	return tlv(3,
		tlv(1, u8(AudioCodecAACLC)),
		tlv(2, tlv(1, u8(1)), tlv(2, u8(BitrateModeVariable)), tlv(3, u8(SampleRate32Khz)), tlv(4, u32(64))),
	)
}

// selection is laid out the way a home hub writes the selected recording
// configuration characteristic.
func selection() []byte {
	video := tlv(2, tlv(1, u8(VideoCodecH264)), videoParameters(u32(2000)), videoAttributes())

	var buf []byte
	buf = append(buf, general()...)
	buf = append(buf, video...)
	buf = append(buf, audio()...)
	return buf
}

func TestDecodeSelectedConfiguration(t *testing.T) {
	c, err := DecodeSelectedConfiguration(selection())
	require.NoError(t, err)

	assert.Equal(t, &recording.Configuration{
		Profile:         recording.ProfileHigh,
		Level:           recording.Level4_0,
		Width:           1920,
		Height:          1080,
		FPS:             30,
		Bitrate:         2000,
		IFrameInterval:  4 * time.Second,
		AudioCodec:      recording.AudioCodecAACLC,
		SampleRate:      32,
		AudioBitrate:    64,
		Channels:        1,
		FragmentLength:  4 * time.Second,
		PrebufferLength: 4 * time.Second,
	}, c)
	assert.Contains(t, c.VideoArgs(), "expr:eq(t,n_forced*4)")
}

func TestDecodeEventTriggers(t *testing.T) {
	var sel SelectedCameraRecordingConfiguration
	require.NoError(t, tlv8.Unmarshal(selection(), &sel))
	assert.Equal(t, uint64(EventTriggerMotion), sel.General.EventTriggers())

	assert.Zero(t, RecordingConfiguration{}.EventTriggers())
}

func TestDecodeShortValue(t *testing.T) {
	video := tlv(2, tlv(1, u8(VideoCodecH264)), videoParameters(u16(2000)), videoAttributes())
	buf := append(general(), video...)

	_, err := DecodeSelectedConfiguration(buf)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestDecodeMissingAttributes(t *testing.T) {
	video := tlv(2, tlv(1, u8(VideoCodecH264)), videoParameters(u32(2000)))
	buf := append(general(), video...)
	buf = append(buf, audio()...)

	_, err := DecodeSelectedConfiguration(buf)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = DecodeSelectedConfiguration(nil)
	assert.Error(t, err)
}

func TestUnsupportedCodec(t *testing.T) {
	video := tlv(2, tlv(1, u8(1)), videoParameters(u32(2000)), videoAttributes())

	_, err := DecodeSelectedConfiguration(append(general(), video...))
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestSupportedRecordingConfiguration(t *testing.T) {
	buf, err := SupportedRecordingConfiguration(recording.PrebufferLength, recording.FragmentLength, EventTriggerMotion)
	require.NoError(t, err)

	var want []byte
	want = append(want, tlv(1, u32(4000))...)
	want = append(want, tlv(2, u64(EventTriggerMotion))...)
	want = append(want, tlv(3, tlv(1, u8(ContainerFragmentedMP4)), tlv(2, tlv(1, u32(4000))))...)
	assert.Equal(t, want, buf)
}

func TestSupportedConfigurations(t *testing.T) {
	buf, err := SupportedVideoConfiguration(DefaultResolutions)
	require.NoError(t, err)

	var video SupportedVideoRecordingConfiguration
	require.NoError(t, tlv8.Unmarshal(buf, &video))
	require.Len(t, video.CodecConfigurations, 1)
	assert.Len(t, video.CodecConfigurations[0].VideoCodecParameters, 3)
	assert.Len(t, video.CodecConfigurations[0].VideoAttributes, len(DefaultResolutions))

	buf, err = SupportedAudioConfiguration()
	require.NoError(t, err)

	var audioCfg SupportedAudioRecordingConfiguration
	require.NoError(t, tlv8.Unmarshal(buf, &audioCfg))
	require.Len(t, audioCfg.CodecConfigurations, 1)
	require.Len(t, audioCfg.CodecConfigurations[0].AudioCodecParameters, 1)
	assert.Equal(t, []byte{SampleRate32Khz}, audioCfg.CodecConfigurations[0].AudioCodecParameters[0].SampleRates)

	buf, err = SupportedDataStreamTransport()
	require.NoError(t, err)
	assert.Equal(t, append(tlv(1, tlv(1, u8(TransportTypeHDS))), tlv(2, u8(9))...), buf)
}
