package hkhoffmation

import (
	"context"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/log"
	"github.com/brutella/hc/rtp"
	"github.com/brutella/hc/service"
	"github.com/brutella/hc/tlv8"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
)

// prepareTimeout bounds the port reservation of a setup endpoints request.
const prepareTimeout = 10 * time.Second

// streaming connects the stream management services of a camera to its
// live stream manager.
type streaming struct {
	name string
	live ffmpeg.FFMPEG

	mutex  sync.Mutex
	owners map[ffmpeg.StreamID]*service.CameraRTPStreamManagement
}

func newStreaming(name string, live ffmpeg.FFMPEG) *streaming {
	return &streaming{
		name:   name,
		live:   live,
		owners: make(map[ffmpeg.StreamID]*service.CameraRTPStreamManagement),
	}
}

func streamID(id []byte) ffmpeg.StreamID {
	return ffmpeg.StreamID(hex.EncodeToString(id))
}

func (s *streaming) setup(m *service.CameraRTPStreamManagement) {
	setStatus(m, rtp.StreamingStatusAvailable)
	setTLV8Payload(m.SupportedRTPConfiguration.Bytes, rtp.NewConfiguration(rtp.CryptoSuite_AES_CM_128_HMAC_SHA1_80))
	setTLV8Payload(m.SupportedVideoStreamConfiguration.Bytes, rtp.DefaultVideoStreamConfiguration())
	setTLV8Payload(m.SupportedAudioStreamConfiguration.Bytes, rtp.DefaultAudioStreamConfiguration())

	m.SelectedRTPStreamConfiguration.OnValueRemoteUpdate(func(buf []byte) {
		var cfg rtp.StreamConfiguration
		if err := tlv8.Unmarshal(buf, &cfg); err != nil {
			log.Info.Printf("[%s] SelectedRTPStreamConfiguration: Could not unmarshal tlv8 data: %s", s.name, err)
			return
		}
		log.Debug.Printf("[%s] %+v", s.name, cfg)
		s.handle(m, cfg)
	})

	m.SetupEndpoints.OnValueUpdateFromConn(func(conn net.Conn, c *characteristic.Characteristic, new, old interface{}) {
		var req rtp.SetupEndpoints
		if err := tlv8.Unmarshal(m.SetupEndpoints.GetValue(), &req); err != nil {
			log.Info.Printf("[%s] SetupEndpoints: Could not unmarshal tlv8 data: %s", s.name, err)
			return
		}
		log.Debug.Printf("[%s] %+v", s.name, req)

		resp := s.prepare(localIP(conn), req)
		setTLV8Payload(m.SetupEndpoints.Bytes, resp)
	})
}

func (s *streaming) prepare(ip string, req rtp.SetupEndpoints) rtp.SetupEndpointsResponse {
	ctx, cancel := context.WithTimeout(context.Background(), prepareTimeout)
	defer cancel()

	resp, err := s.live.PrepareStream(ctx, prepareRequest(req))
	if err != nil {
		log.Info.Printf("[%s] prepare stream: %v", s.name, err)
		return rtp.SetupEndpointsResponse{
			SessionId: req.SessionId,
			Status:    rtp.SessionStatusError,
		}
	}
	return setupResponse(req, ip, resp)
}

func (s *streaming) handle(m *service.CameraRTPStreamManagement, cfg rtp.StreamConfiguration) {
	req, ok := streamRequest(cfg)
	if !ok {
		log.Debug.Printf("[%s] Ignoring session control command %d", s.name, cfg.Command.Type)
		return
	}

	switch req.Type {
	case ffmpeg.RequestStart:
		s.mutex.Lock()
		s.owners[req.SessionID] = m
		s.mutex.Unlock()

		if err := s.live.HandleStreamRequest(req); err != nil {
			log.Info.Printf("[%s] start stream: %v", s.name, err)
			s.ended(req.SessionID)
			return
		}
		setStatus(m, rtp.StreamingStatusBusy)
	case ffmpeg.RequestStop:
		s.live.HandleStreamRequest(req)
		s.ended(req.SessionID)
	default:
		s.live.HandleStreamRequest(req)
	}
}

// ended makes the stream management service of a stream available again.
func (s *streaming) ended(id ffmpeg.StreamID) {
	s.mutex.Lock()
	m, ok := s.owners[id]
	delete(s.owners, id)
	s.mutex.Unlock()

	if ok {
		setStatus(m, rtp.StreamingStatusAvailable)
	}
}

func setStatus(m *service.CameraRTPStreamManagement, status byte) {
	setTLV8Payload(m.StreamingStatus.Bytes, rtp.StreamingStatus{Status: status})
}

func setTLV8Payload(c *characteristic.Bytes, v interface{}) {
	if buf, err := tlv8.Marshal(v); err == nil {
		c.SetValue(buf)
	} else {
		log.Info.Println(err)
	}
}

// localIP returns the address the controller reached the accessory at.
func localIP(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return ""
	}
	return host
}

func prepareRequest(req rtp.SetupEndpoints) ffmpeg.PrepareRequest {
	return ffmpeg.PrepareRequest{
		SessionID: streamID(req.SessionId),
		Address:   req.ControllerAddr.IPAddr,
		IPv6:      req.ControllerAddr.IPVersion == rtp.IPAddrVersionv6,
		Video: ffmpeg.Endpoint{
			Port:        int(req.ControllerAddr.VideoRtpPort),
			CryptoSuite: cryptoSuite(req.Video),
			SRTPKey:     req.Video.MasterKey,
			SRTPSalt:    req.Video.MasterSalt,
		},
		Audio: ffmpeg.Endpoint{
			Port:        int(req.ControllerAddr.AudioRtpPort),
			CryptoSuite: cryptoSuite(req.Audio),
			SRTPKey:     req.Audio.MasterKey,
			SRTPSalt:    req.Audio.MasterSalt,
		},
	}
}

// cryptoSuite returns the first suite offered by the controller.
func cryptoSuite(c rtp.CryptoSuite) byte {
	if len(c.Types) == 0 {
		return rtp.CryptoSuite_AES_CM_128_HMAC_SHA1_80
	}
	return c.Types[0].Type
}

func setupResponse(req rtp.SetupEndpoints, ip string, resp ffmpeg.PrepareResponse) rtp.SetupEndpointsResponse {
	return rtp.SetupEndpointsResponse{
		SessionId: req.SessionId,
		Status:    rtp.SessionStatusSuccess,
		AccessoryAddr: rtp.Addr{
			IPVersion:    req.ControllerAddr.IPVersion,
			IPAddr:       ip,
			VideoRtpPort: uint16(resp.Video.Port),
			AudioRtpPort: uint16(resp.Audio.Port),
		},
		Video: rtp.CryptoSuite{
			Types:      req.Video.Types,
			MasterKey:  resp.Video.SRTPKey,
			MasterSalt: resp.Video.SRTPSalt,
		},
		Audio: rtp.CryptoSuite{
			Types:      req.Audio.Types,
			MasterKey:  resp.Audio.SRTPKey,
			MasterSalt: resp.Audio.SRTPSalt,
		},
		SsrcVideo: resp.Video.SSRC,
		SsrcAudio: resp.Audio.SSRC,
	}
}

// streamRequest translates a selected stream configuration. Suspend and
// resume have no counterpart and are reported as not ok.
func streamRequest(cfg rtp.StreamConfiguration) (ffmpeg.StreamRequest, bool) {
	req := ffmpeg.StreamRequest{
		SessionID: streamID(cfg.Command.Identifier),
		Video:     videoRequest(cfg.Video),
		Audio:     audioRequest(cfg.Audio),
	}

	switch cfg.Command.Type {
	case rtp.SessionControlCommandTypeStart:
		req.Type = ffmpeg.RequestStart
	case rtp.SessionControlCommandTypeReconfigure:
		req.Type = ffmpeg.RequestReconfigure
	case rtp.SessionControlCommandTypeEnd:
		req.Type = ffmpeg.RequestStop
	default:
		return req, false
	}
	return req, true
}

func videoRequest(v rtp.VideoParameters) ffmpeg.VideoRequest {
	return ffmpeg.VideoRequest{
		Width:        int(v.Attributes.Width),
		Height:       int(v.Attributes.Height),
		FPS:          int(v.Attributes.Framerate),
		Bitrate:      int(v.RTP.Bitrate),
		PayloadType:  v.RTP.PayloadType,
		RTCPInterval: time.Duration(float64(v.RTP.Interval) * float64(time.Second)),
	}
}

func audioRequest(a rtp.AudioParameters) ffmpeg.AudioRequest {
	return ffmpeg.AudioRequest{
		Codec:       audioCodec(a.CodecType),
		SampleRate:  sampleRate(a.CodecParams.Samplerate),
		Bitrate:     int(a.RTP.Bitrate),
		Channels:    int(a.CodecParams.Channels),
		PayloadType: a.RTP.PayloadType,
	}
}

func audioCodec(typ byte) ffmpeg.AudioCodec {
	switch typ {
	case rtp.AudioCodecType_PCMU:
		return ffmpeg.AudioCodecPCMU
	case rtp.AudioCodecType_PCMA:
		return ffmpeg.AudioCodecPCMA
	case rtp.AudioCodecType_AAC_ELD:
		return ffmpeg.AudioCodecAACELD
	case rtp.AudioCodecType_Opus:
		return ffmpeg.AudioCodecOpus
	case rtp.AudioCodecType_MSBC:
		return ffmpeg.AudioCodecMSBC
	case rtp.AudioCodecType_AMR:
		return ffmpeg.AudioCodecAMR
	case rtp.AudioCodecType_ARM_WB:
		return ffmpeg.AudioCodecAMRWB
	}
	return ffmpeg.AudioCodecUnknown
}

// sampleRate returns the sample rate in kHz.
func sampleRate(rate byte) int {
	switch rate {
	case rtp.AudioCodecSampleRate8Khz:
		return 8
	case rtp.AudioCodecSampleRate16Khz:
		return 16
	case rtp.AudioCodecSampleRate24Khz:
		return 24
	}
	return 0
}
