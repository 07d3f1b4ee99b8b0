package ffmpeg

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

const (
	returnAudioPayloadType = 110
	returnAudioBandwidth   = 24
	returnAudioFmtp        = "profile-level-id=1;mode=AAC-hbr;sizelength=13;indexlength=3;indexdeltalength=3; config=F8F0212C00BC00"
)

// ReturnAudioSDP describes the SRTP audio the controller sends to the audio return
// port, so the two-way audio process can decrypt and play it.
func ReturnAudioSDP(s *PendingSession) (string, error) {
	addrType := "IP4"
	if s.IPv6 {
		addrType = "IP6"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: s.Address,
		},
		SessionName: "Talk",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: s.Address},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: s.AudioReturnPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{fmt.Sprint(returnAudioPayloadType)},
				},
				Bandwidth: []sdp.Bandwidth{
					{Type: "AS", Bandwidth: returnAudioBandwidth},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", fmt.Sprintf("%d MPEG4-GENERIC/16000/1", returnAudioPayloadType)),
					// ffmpeg ignores rtcp-mux
					sdp.NewPropertyAttribute("rtcp-mux"),
					sdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", returnAudioPayloadType, returnAudioFmtp)),
					sdp.NewAttribute("crypto", fmt.Sprintf("1 %s inline:%s", srtpSuite, srtpParams(s.AudioSRTP))),
				},
			},
		},
	}

	b, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
