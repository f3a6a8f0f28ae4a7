// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
)

// stateValues gives each lifecycle state a stable gauge value.
var stateValues = map[domain.PipelineState]float64{
	domain.StateIdle:         0,
	domain.StateConnecting:   1,
	domain.StateActive:       2,
	domain.StateReconnecting: 3,
	domain.StatePaused:       4,
	domain.StateFailed:       5,
	domain.StateStopped:      6,
}

// Metrics holds all counters and gauges for both capture streams.
type Metrics struct {
	FramesSent           *prometheus.CounterVec
	BytesSent            *prometheus.CounterVec
	FramesDropped        *prometheus.CounterVec
	Reconnects           *prometheus.CounterVec
	FinalTranscripts     *prometheus.CounterVec
	InterimTranscripts   *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter
	StreamState          *prometheus.GaugeVec
	StreamErrors         *prometheus.CounterVec
}

// New registers the metric set on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_frames_sent_total",
			Help: "Audio frames transmitted to the transcription backend",
		}, []string{"source"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_bytes_sent_total",
			Help: "Audio payload bytes transmitted to the transcription backend",
		}, []string{"source"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_frames_dropped_total",
			Help: "Frames discarded because the network consumer lagged",
		}, []string{"source"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_reconnect_attempts_total",
			Help: "Reconnection attempts scheduled per stream",
		}, []string{"source"}),
		FinalTranscripts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_final_transcripts_total",
			Help: "Final transcripts accepted after deduplication",
		}, []string{"source"}),
		InterimTranscripts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_interim_transcripts_total",
			Help: "Interim transcript updates received",
		}, []string{"source"}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_duplicates_suppressed_total",
			Help: "Final transcripts suppressed as cross-stream duplicates",
		}),
		StreamState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callscribe_stream_state",
			Help: "Current lifecycle state per stream (0=idle .. 6=stopped)",
		}, []string{"source"}),
		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_stream_errors_total",
			Help: "Terminal stream errors by kind",
		}, []string{"source", "kind"}),
	}
}

// ObserveState records a lifecycle transition. Safe on a nil receiver so
// instrumentation stays optional.
func (m *Metrics) ObserveState(source domain.Source, state domain.PipelineState) {
	if m == nil {
		return
	}
	m.StreamState.WithLabelValues(string(source)).Set(stateValues[state])
}

// ObserveFrame records one transmitted frame.
func (m *Metrics) ObserveFrame(source domain.Source, bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(string(source)).Inc()
	m.BytesSent.WithLabelValues(string(source)).Add(float64(bytes))
}

// ObserveDropped records frames lost to back-pressure.
func (m *Metrics) ObserveDropped(source domain.Source, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.FramesDropped.WithLabelValues(string(source)).Add(float64(n))
}

// ObserveReconnect records one scheduled retry.
func (m *Metrics) ObserveReconnect(source domain.Source) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(string(source)).Inc()
}

// ObserveTranscript records a transcript event by kind.
func (m *Metrics) ObserveTranscript(source domain.Source, isFinal bool) {
	if m == nil {
		return
	}
	if isFinal {
		m.FinalTranscripts.WithLabelValues(string(source)).Inc()
	} else {
		m.InterimTranscripts.WithLabelValues(string(source)).Inc()
	}
}

// ObserveSuppressed records one deduplicated final.
func (m *Metrics) ObserveSuppressed() {
	if m == nil {
		return
	}
	m.DuplicatesSuppressed.Inc()
}

// ObserveError records a terminal stream failure.
func (m *Metrics) ObserveError(source domain.Source, err error) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(string(source), string(domain.KindOf(err))).Inc()
}
