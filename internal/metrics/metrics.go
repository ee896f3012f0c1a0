// Package metrics exposes the Prometheus collectors the gateway and the
// staged pipeline record against. Collectors are package-level, registered
// once at process start via promauto, following the convention the pack's
// own voice-gateway metrics package uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks the number of currently connected gateway
	// clients.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently connected dialogue sessions",
	})

	// SessionsTotal counts every session that has completed its handshake.
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Total dialogue sessions started",
	})

	// TurnLatency measures end-to-end latency from a user turn's ASR-final
	// text to the first TTS audio chunk of the reply.
	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_turn_latency_seconds",
		Help:    "Latency from ASR-final text to first TTS audio chunk",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	// StageDuration is the staged pipeline's per-stage latency, labeled by
	// stage name ("llm", "tts").
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Staged pipeline per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	// StageErrors counts staged-pipeline errors by stage and error type.
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Staged pipeline error counts by stage and error type",
	}, []string{"stage", "error_type"})

	// UpstreamFramesDropped counts frames discarded because the dialogue
	// service's response queue was full.
	UpstreamFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_response_queue_dropped_total",
		Help: "Frames dropped because the response queue was full",
	})
)
