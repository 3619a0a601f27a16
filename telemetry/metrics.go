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
	ScoresReceived       prometheus.Counter
	ScoresMatched        prometheus.Counter
	DecodeFailures       prometheus.Counter
	FeedReconnects       prometheus.Counter
	ProfileFetchFailures prometheus.Counter
	ClipFailures         prometheus.Counter

	// Per-platform counters (platform label: twitch|twitter)
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	TokenRefreshes      *prometheus.CounterVec // outcome label: ok|error

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	FeedConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ScoresReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_scores_received_total", Help: "Score events decoded from the feed"})
		ScoresMatched = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_scores_matched_total", Help: "Score events passing the accuracy filter"})
		DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_feed_decode_failures_total", Help: "Feed messages dropped due to decode errors"})
		FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_feed_reconnects_total", Help: "Feed reconnect attempts"})
		ProfileFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_profile_fetch_failures_total", Help: "Player profile lookups that failed"})
		ClipFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "scorewatch_clip_failures_total", Help: "Best-effort clip creations that failed"})
		NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "scorewatch_notifications_sent_total", Help: "Notifications delivered per platform"}, []string{"platform"})
		NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "scorewatch_notifications_failed_total", Help: "Notifications failed per platform"}, []string{"platform"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "scorewatch_token_refreshes_total", Help: "OAuth refresh exchanges per platform and outcome"}, []string{"platform", "outcome"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "scorewatch_dispatch_duration_seconds", Help: "Enrichment plus fan-out duration per matched score", Buckets: prometheus.DefBuckets})
		FeedConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "scorewatch_feed_connected", Help: "Feed connection state connected=1 disconnected=0"})
	})
}

// SetFeedConnected sets the feed gauge to 1 if connected else 0.
func SetFeedConnected(connected bool) {
	if FeedConnectedGauge == nil {
		return
	}
	if connected {
		FeedConnectedGauge.Set(1)
	} else {
		FeedConnectedGauge.Set(0)
	}
}

// CountNotification records a per-platform notification outcome.
func CountNotification(platform string, ok bool) {
	if ok {
		if NotificationsSent != nil {
			NotificationsSent.WithLabelValues(platform).Inc()
		}
		return
	}
	if NotificationsFailed != nil {
		NotificationsFailed.WithLabelValues(platform).Inc()
	}
}

// CountTokenRefresh records a refresh exchange outcome for a platform.
func CountTokenRefresh(platform string, err error) {
	if TokenRefreshes == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TokenRefreshes.WithLabelValues(platform, outcome).Inc()
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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
