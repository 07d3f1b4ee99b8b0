// Package metrics exports Prometheus collectors for camera sessions.
//
// All methods are safe on a nil *Metrics, so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hkhoffmation"

// Process kinds counted by TranscoderStarted.
const (
	KindLive        = "live"
	KindReturnAudio = "return_audio"
	KindRecording   = "recording"
	KindPrebuffer   = "prebuffer"
)

// Metrics holds the collectors of all cameras. Per camera series are labeled by camera name.
type Metrics struct {
	liveSessions      *prometheus.GaugeVec
	recordingSessions *prometheus.GaugeVec
	fragments         *prometheus.CounterVec
	snapshotFetches   *prometheus.CounterVec
	processes         *prometheus.CounterVec
	rtcpPackets       *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		liveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Number of running live streams",
		}, []string{"camera"}),
		recordingSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_sessions",
			Help:      "Number of running recording streams",
		}, []string{"camera"}),
		fragments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_fragments_total",
			Help:      "Fragments delivered to recording consumers",
		}, []string{"camera"}),
		snapshotFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot fetches by result",
		}, []string{"camera", "result"}),
		processes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcoder_processes_total",
			Help:      "Transcoder processes spawned by kind",
		}, []string{"camera", "kind"}),
		rtcpPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtcp_packets_total",
			Help:      "Datagrams received on liveness sockets by RTCP packet type",
		}, []string{"camera", "type"}),
	}
}

func (m *Metrics) LiveSessionStarted(camera string) {
	if m != nil {
		m.liveSessions.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) LiveSessionStopped(camera string) {
	if m != nil {
		m.liveSessions.WithLabelValues(camera).Dec()
	}
}

func (m *Metrics) RecordingStarted(camera string) {
	if m != nil {
		m.recordingSessions.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) RecordingStopped(camera string) {
	if m != nil {
		m.recordingSessions.WithLabelValues(camera).Dec()
	}
}

func (m *Metrics) FragmentSent(camera string) {
	if m != nil {
		m.fragments.WithLabelValues(camera).Inc()
	}
}

// SnapshotFetched counts a fetch as "ok" or "error".
func (m *Metrics) SnapshotFetched(camera string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotFetches.WithLabelValues(camera, result).Inc()
}

func (m *Metrics) TranscoderStarted(camera, kind string) {
	if m != nil {
		m.processes.WithLabelValues(camera, kind).Inc()
	}
}

func (m *Metrics) RTCPReceived(camera, typ string) {
	if m != nil {
		m.rtcpPackets.WithLabelValues(camera, typ).Inc()
	}
}
