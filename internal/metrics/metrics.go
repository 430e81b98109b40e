package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venue_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_notifications_enqueued_total",
			Help: "Notifications enqueued through the gateway",
		},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_notifications_processed_total",
			Help: "Notifications processed by outcome",
		},
		[]string{"status"},
	)

	channelSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_channel_sends_total",
			Help: "Channel delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	subscriptionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_push_subscriptions_pruned_total",
			Help: "Push subscriptions deleted after the push service reported them gone",
		},
	)

	invoicesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_invoices_processed_total",
			Help: "Invoice generation attempts by outcome",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venue_worker_run_duration_seconds",
			Help:    "Wall-clock time of one worker poll cycle",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"worker"},
	)

	batchSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "venue_worker_batch_size",
			Help: "Rows selected by the last poll cycle",
		},
		[]string{"worker"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationEnqueued records a notification accepted by the gateway
func RecordNotificationEnqueued() {
	notificationsEnqueued.Inc()
}

// RecordNotificationProcessed records the final status written for a record
func RecordNotificationProcessed(status string) {
	notificationsProcessed.WithLabelValues(status).Inc()
}

// RecordChannelSend records one channel attempt ("ok", "error" or "skipped")
func RecordChannelSend(channel, result string) {
	channelSends.WithLabelValues(channel, result).Inc()
}

func RecordSubscriptionPruned() {
	subscriptionsPruned.Inc()
}

// RecordInvoiceProcessed records an invoice outcome ("finalized", "failed", "parked")
func RecordInvoiceProcessed(status string) {
	invoicesProcessed.WithLabelValues(status).Inc()
}

// RecordRun records the duration and selected batch size of a poll cycle
func RecordRun(worker string, selected int, duration time.Duration) {
	runDuration.WithLabelValues(worker).Observe(duration.Seconds())
	batchSize.WithLabelValues(worker).Set(float64(selected))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// Push sends the default registry to a Pushgateway. Cron-invoked workers exit
// before any scrape, so this is how their counters survive.
func Push(url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
