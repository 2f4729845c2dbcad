package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce                sync.Once
	apiRequestsTotal            *prometheus.CounterVec
	apiLatencySeconds           *prometheus.HistogramVec
	apiErrorsTotal              *prometheus.CounterVec
	submissionsCreatedTotal     *prometheus.CounterVec
	reviewsTotal                *prometheus.CounterVec
	reviewRetriesTotal          prometheus.Counter
	pointsAwardedTotal          *prometheus.CounterVec
	leaderboardComputeSeconds   *prometheus.HistogramVec
	leaderboardCacheTotal       *prometheus.CounterVec
	notificationsPublishedTotal *prometheus.CounterVec
	notificationsFailedTotal    *prometheus.CounterVec
	sseClientsActive            prometheus.Gauge
	leaderboardStreamsActive    prometheus.Gauge
	uploadRejectedTotal         *prometheus.CounterVec
	uploadLatencySeconds        prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upskill_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		submissionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_submissions_created_total",
			Help: "Submissions accepted into the store, by activity type.",
		}, []string{"type"})

		reviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_reviews_total",
			Help: "Review attempts by outcome.",
		}, []string{"outcome"})

		reviewRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upskill_review_retries_total",
			Help: "Review transactions re-run after a transient storage error.",
		})

		pointsAwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_points_awarded_total",
			Help: "Points added by positive ledger entries, by entry kind.",
		}, []string{"kind"})

		leaderboardComputeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upskill_leaderboard_compute_seconds",
			Help:    "Time spent computing a leaderboard from scratch.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"scope_kind"})

		leaderboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_leaderboard_cache_total",
			Help: "Leaderboard cache lookups by result.",
		}, []string{"result"})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_notifications_published_total",
			Help: "Notification events delivered, by kind.",
		}, []string{"kind"})

		notificationsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_notifications_failed_total",
			Help: "Notification deliveries rejected by a channel.",
		}, []string{"channel"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upskill_sse_clients_active",
			Help: "Currently connected notification stream clients.",
		})

		leaderboardStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upskill_leaderboard_streams_active",
			Help: "Currently connected live leaderboard websocket clients.",
		})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upskill_upload_rejected_total",
			Help: "Attachment uploads rejected, by reason.",
		}, []string{"reason"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upskill_upload_latency_seconds",
			Help:    "Time spent validating and storing attachments.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsCreatedTotal,
			reviewsTotal,
			reviewRetriesTotal,
			pointsAwardedTotal,
			leaderboardComputeSeconds,
			leaderboardCacheTotal,
			notificationsPublishedTotal,
			notificationsFailedTotal,
			sseClientsActive,
			leaderboardStreamsActive,
			uploadRejectedTotal,
			uploadLatencySeconds,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// SubmissionsCreated counts stored submissions.
func SubmissionsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsCreatedTotal
}

// Reviews counts review outcomes.
func Reviews() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewsTotal
}

// ReviewRetries counts re-run review transactions.
func ReviewRetries() prometheus.Counter {
	RegisterMetrics()
	return reviewRetriesTotal
}

// PointsAwarded sums positive ledger deltas.
func PointsAwarded() *prometheus.CounterVec {
	RegisterMetrics()
	return pointsAwardedTotal
}

// LeaderboardCompute exposes the from-scratch ranking histogram.
func LeaderboardCompute() *prometheus.HistogramVec {
	RegisterMetrics()
	return leaderboardComputeSeconds
}

// LeaderboardCache counts cache hits and misses.
func LeaderboardCache() *prometheus.CounterVec {
	RegisterMetrics()
	return leaderboardCacheTotal
}

// NotificationsPublishedTotal counts delivered notification events.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// NotificationsFailed counts channel delivery failures.
func NotificationsFailed() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsFailedTotal
}

// SSEClientsActive tracks open notification streams.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// LeaderboardStreamsActive tracks open leaderboard websockets.
func LeaderboardStreamsActive() prometheus.Gauge {
	RegisterMetrics()
	return leaderboardStreamsActive
}

// UploadRejected counts rejected attachments.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency exposes the attachment handling histogram.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}
