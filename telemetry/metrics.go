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
	MessagesAppended *prometheus.CounterVec
	PollsTotal       prometheus.Counter
	PollErrors       *prometheus.CounterVec
	SubscriberDrops  prometheus.Counter
	OAuthCallbacks   *prometheus.CounterVec
	// Histograms (seconds)
	PollDuration prometheus.Observer
	// Gauges
	BufferGauge    prometheus.Gauge
	WSClientsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmerge_messages_total", Help: "Chat messages appended to the buffer"}, []string{"platform"})
		PollsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmerge_polls_total", Help: "YouTube live chat poll cycles"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmerge_poll_errors_total", Help: "Errors while polling or subscribing to chat"}, []string{"platform"})
		SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmerge_subscriber_drops_total", Help: "Messages dropped for slow live subscribers"})
		OAuthCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmerge_oauth_callbacks_total", Help: "OAuth callback outcomes"}, []string{"platform", "result"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatmerge_poll_duration_seconds", Help: "YouTube poll duration seconds", Buckets: prometheus.DefBuckets})
		BufferGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmerge_buffer_messages", Help: "Messages currently held in the buffer"})
		WSClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmerge_ws_clients", Help: "Connected websocket viewers"})
	})
}

// IncMessages counts one appended message for platform.
func IncMessages(platform string) {
	if MessagesAppended != nil {
		MessagesAppended.WithLabelValues(platform).Inc()
	}
}

// IncPollError counts a poll or subscription failure for platform.
func IncPollError(platform string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(platform).Inc()
	}
}

// IncPolls counts one poll cycle.
func IncPolls() {
	if PollsTotal != nil {
		PollsTotal.Inc()
	}
}

// IncSubscriberDrop counts a message not delivered to a slow subscriber.
func IncSubscriberDrop() {
	if SubscriberDrops != nil {
		SubscriberDrops.Inc()
	}
}

// RecordOAuthCallback counts a callback outcome (ok, missing_code, bad_state, error).
func RecordOAuthCallback(platform, result string) {
	if OAuthCallbacks != nil {
		OAuthCallbacks.WithLabelValues(platform, result).Inc()
	}
}

// SetBufferSize records the current buffer length.
func SetBufferSize(n int) {
	if BufferGauge != nil {
		BufferGauge.Set(float64(n))
	}
}

// AddWSClients adjusts the websocket viewer gauge by delta.
func AddWSClients(delta int) {
	if WSClientsGauge != nil {
		WSClientsGauge.Add(float64(delta))
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
