// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EntriesAppended     *prometheus.CounterVec // by source
	SequencesStarted    prometheus.Counter
	SequencesDropped    prometheus.Counter
	AmbientInjected     prometheus.Counter
	Transcriptions      *prometheus.CounterVec // by status
	CompletionFailures  prometheus.Counter
	PersistFailures     prometheus.Counter
	ArchiveDropped      prometheus.Counter
	BridgeMessages      *prometheus.CounterVec // by platform

	// Histograms (seconds)
	STTDuration        prometheus.Observer
	CompletionDuration prometheus.Observer

	// Gauges
	FollowUpsPending prometheus.Gauge
	StoreSize        prometheus.Gauge
	StreamClients    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EntriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatfeed_entries_appended_total", Help: "Chat entries appended to the feed"}, []string{"source"})
		SequencesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_sequences_started_total", Help: "Chat sequences accepted by the sequencer"})
		SequencesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_sequences_dropped_total", Help: "Chat sequences rejected by cooldown or an active sequence"})
		AmbientInjected = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_ambient_injected_total", Help: "Ambient idle-chatter messages injected"})
		Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatfeed_transcriptions_total", Help: "Audio chunks processed by outcome"}, []string{"status"})
		CompletionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_completion_failures_total", Help: "Chat completion calls that fell back to canned replies"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_persist_failures_total", Help: "Failed writes of the durable feed mirror"})
		ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatfeed_archive_dropped_total", Help: "Entries dropped because the archive queue was full"})
		BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatfeed_bridge_messages_total", Help: "Real chat messages bridged into the feed"}, []string{"platform"})
		STTDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatfeed_stt_duration_seconds", Help: "Speech-to-text call duration seconds", Buckets: prometheus.DefBuckets})
		CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatfeed_completion_duration_seconds", Help: "Chat completion call duration seconds", Buckets: prometheus.DefBuckets})
		FollowUpsPending = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatfeed_followups_pending", Help: "Delayed chat appends waiting to fire"})
		StoreSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatfeed_store_size", Help: "Entries currently held by the feed"})
		StreamClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatfeed_stream_clients", Help: "Connected SSE and WebSocket overlay clients"})
	})
}

// CountAppend records an appended entry for source.
func CountAppend(source string) {
	if EntriesAppended != nil {
		if source == "" {
			source = "unknown"
		}
		EntriesAppended.WithLabelValues(source).Inc()
	}
}

// CountTranscription records a pipeline outcome.
func CountTranscription(status string) {
	if Transcriptions != nil {
		Transcriptions.WithLabelValues(status).Inc()
	}
}

// CountBridged records a real chat message bridged from platform.
func CountBridged(platform string) {
	if BridgeMessages != nil {
		BridgeMessages.WithLabelValues(platform).Inc()
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetGauge sets g if it has been registered.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// AddGauge adds delta to g if it has been registered.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
