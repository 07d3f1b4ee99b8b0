package ffmpeg

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// AudioCodec is the audio codec a controller asks for.
type AudioCodec int

// Audio codecs of a live stream request.
const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecPCMU
	AudioCodecPCMA
	AudioCodecAACELD
	AudioCodecOpus
	AudioCodecMSBC
	AudioCodecAMR
	AudioCodecAMRWB
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecPCMU:
		return "PCMU"
	case AudioCodecPCMA:
		return "PCMA"
	case AudioCodecAACELD:
		return "AAC-eld"
	case AudioCodecOpus:
		return "OPUS"
	case AudioCodecMSBC:
		return "MSBC"
	case AudioCodecAMR:
		return "AMR"
	case AudioCodecAMRWB:
		return "AMR-WB"
	}
	return "unknown"
}

const (
	srtpSuite      = "AES_CM_128_HMAC_SHA1_80"
	audioPacketLen = 188
)

// VideoRequest holds the video parameters a controller selected for a stream.
type VideoRequest struct {
	Width        int
	Height       int
	FPS          int
	Bitrate      int
	PayloadType  uint8
	RTCPInterval time.Duration
	MTU          int
}

// AudioRequest holds the audio parameters a controller selected for a stream.
type AudioRequest struct {
	Codec       AudioCodec
	SampleRate  int // kHz
	Bitrate     int
	Channels    int
	PayloadType uint8
}

// Resolution is the outcome of the resolution negotiation.
type Resolution struct {
	Width        int
	Height       int
	VideoFilter  string
	SnapFilter   string
	ResizeFilter string
}

// Encoding is what the transcoder is actually asked to produce.
// All values are zero when video is passed through.
type Encoding struct {
	Width       int
	Height      int
	FPS         int
	Bitrate     int
	VideoFilter string
}

// capped applies the cap-and-force rule: the maximum wins when it is set and
// either forced or smaller than the requested value.
func capped(requested, max int, force bool) int {
	if max > 0 && (force || requested > max) {
		return max
	}
	return requested
}

// DetermineResolution caps the requested size and builds the video filter chain.
func (c VideoConfig) DetermineResolution(width, height int) Resolution {
	res := Resolution{
		Width:  capped(width, c.MaxWidth, c.ForceMax),
		Height: capped(height, c.MaxHeight, c.ForceMax),
	}

	var filters []string
	none := false
	if c.VideoFilter != "" {
		for _, f := range strings.Split(c.VideoFilter, ",") {
			if f == "none" {
				none = true
				continue
			}
			filters = append(filters, f)
		}
	}
	res.SnapFilter = strings.Join(filters, ",")

	if !none && (res.Width > 0 || res.Height > 0) {
		w, h := "iw", "ih"
		if res.Width > 0 {
			w = fmt.Sprintf("'min(%d,iw)'", res.Width)
		}
		if res.Height > 0 {
			h = fmt.Sprintf("'min(%d,ih)'", res.Height)
		}
		res.ResizeFilter = fmt.Sprintf("scale=%s:%s:force_original_aspect_ratio=decrease", w, h)
		// even dimensions, required by the encoder
		filters = append(filters, res.ResizeFilter, "scale=trunc(iw/2)*2:trunc(ih/2)*2")
	}

	res.VideoFilter = strings.Join(filters, ",")
	return res
}

// Negotiate computes the effective encoding for a request.
func (c VideoConfig) Negotiate(v VideoRequest) Encoding {
	if c.IsPassThrough() {
		return Encoding{}
	}

	res := c.DetermineResolution(v.Width, v.Height)
	return Encoding{
		Width:       res.Width,
		Height:      res.Height,
		FPS:         capped(v.FPS, c.MaxFPS, c.ForceMax),
		Bitrate:     capped(v.Bitrate, c.MaxBitrate, c.ForceMax),
		VideoFilter: res.VideoFilter,
	}
}

func srtpURL(address string, port, pktSize int) string {
	return fmt.Sprintf("srtp://%s?rtcpport=%d&pkt_size=%d",
		net.JoinHostPort(address, strconv.Itoa(port)), port, pktSize)
}

func srtpParams(keyAndSalt []byte) string {
	return base64.StdEncoding.EncodeToString(keyAndSalt)
}

func logLevel(debug bool) []string {
	if debug {
		return []string{"-loglevel", "level+verbose"}
	}
	return []string{"-loglevel", "level"}
}

// LiveArgs builds the argument vector of the main process of a live stream.
func LiveArgs(cfg VideoConfig, s *PendingSession, enc Encoding, video VideoRequest, audio AudioRequest) []string {
	args := cfg.SourceArgs()

	if cfg.MapVideo != "" {
		args = append(args, "-map", cfg.MapVideo)
	} else {
		args = append(args, "-an", "-sn", "-dn")
	}
	args = append(args,
		"-codec:v", cfg.Codec(),
		"-pix_fmt", "yuv420p",
		"-color_range", "mpeg")
	if enc.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(enc.FPS))
	}
	args = append(args, "-f", "rawvideo")
	args = append(args, strings.Fields(cfg.Encoder())...)
	if enc.VideoFilter != "" {
		args = append(args, "-filter:v", enc.VideoFilter)
	}
	if enc.Bitrate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", enc.Bitrate))
	}
	args = append(args,
		"-payload_type", strconv.Itoa(int(video.PayloadType)),
		"-ssrc", strconv.Itoa(int(s.VideoSSRC)),
		"-f", "rtp",
		"-srtp_out_suite", srtpSuite,
		"-srtp_out_params", srtpParams(s.VideoSRTP),
		srtpURL(s.Address, s.VideoPort, cfg.MTU()))

	if cfg.Audio {
		args = append(args, audioArgs(cfg, s, audio)...)
	}

	args = append(args, logLevel(cfg.Debug)...)
	return append(args, "-progress", "pipe:1")
}

// audioArgs returns the audio output of a live stream, or nothing for unsupported codecs.
func audioArgs(cfg VideoConfig, s *PendingSession, audio AudioRequest) []string {
	var args []string
	switch audio.Codec {
	case AudioCodecOpus, AudioCodecAACELD:
	default:
		return nil
	}

	if cfg.MapAudio != "" {
		args = append(args, "-map", cfg.MapAudio)
	} else {
		args = append(args, "-vn", "-sn", "-dn")
	}
	if audio.Codec == AudioCodecOpus {
		args = append(args, "-codec:a", "libopus", "-application", "lowdelay")
	} else {
		args = append(args, "-codec:a", "libfdk_aac", "-profile:a", "aac_eld")
	}

	return append(args,
		"-flags", "+global_header",
		"-f", "null",
		"-ar", fmt.Sprintf("%dk", audio.SampleRate),
		"-b:a", fmt.Sprintf("%dk", audio.Bitrate),
		"-ac", strconv.Itoa(audio.Channels),
		"-payload_type", strconv.Itoa(int(audio.PayloadType)),
		"-ssrc", strconv.Itoa(int(s.AudioSSRC)),
		"-f", "rtp",
		"-srtp_out_suite", srtpSuite,
		"-srtp_out_params", srtpParams(s.AudioSRTP),
		srtpURL(s.Address, s.AudioPort, audioPacketLen))
}

// ReturnAudioArgs builds the arguments of the two-way audio process.
// The process reads its SDP description from stdin.
func ReturnAudioArgs(cfg VideoConfig) []string {
	args := []string{
		"-hide_banner",
		"-protocol_whitelist", "pipe,udp,rtp,file,crypto",
		"-f", "sdp",
		"-c:a", "libfdk_aac",
		"-i", "pipe:",
	}
	args = append(args, strings.Fields(cfg.ReturnAudioTarget)...)
	return append(args, logLevel(cfg.DebugReturn)...)
}

// FragmentedArgs builds the arguments of a fragmented MP4 transcode writing to a loopback port.
func FragmentedArgs(input, output []string, port int, debug bool) []string {
	args := append([]string{}, input...)
	args = append(args, "-f", "mp4")
	args = append(args, output...)
	args = append(args,
		"-fflags", "+genpts",
		"-reset_timestamps", "1",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		fmt.Sprintf("tcp://127.0.0.1:%d", port))
	return append(args, logLevel(debug)...)
}

// SnapshotArgs builds the arguments grabbing one JPEG frame to stdout.
func SnapshotArgs(cfg VideoConfig) []string {
	args := []string{"-hide_banner"}
	args = append(args, cfg.SnapshotSourceArgs()...)
	res := cfg.DetermineResolution(0, 0)
	if res.SnapFilter != "" {
		args = append(args, "-filter:v", res.SnapFilter)
	}
	return append(args, "-frames:v", "1", "-f", "mjpeg", "pipe:1")
}
