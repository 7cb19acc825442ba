package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound calls to the WattTime API.
	WattTimeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watttime_api_requests_total",
			Help: "Total number of WattTime API requests made (by endpoint and outcome).",
		},
		[]string{"endpoint", "outcome"},
	)

	WattTimeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watttime_api_request_duration_seconds",
			Help:    "Duration of WattTime API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint"},
	)

	// Token refreshes triggered by expiry detection.
	TokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watttime_token_refreshes_total",
			Help: "Number of bearer-token refreshes performed after expiry detection.",
		},
	)

	// NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Cache hits and misses for the credentials cache.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in the secrets cache.",
		},
		[]string{"result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_errors_total",
			Help: "Count of adapter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Last successful poll per region (seconds since epoch).
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adapter_last_poll_timestamp",
			Help: "Timestamp (unix seconds) of the last successful signal poll.",
		},
		[]string{"region"},
	)

	// Latest marginal emissions rate per region.
	SignalMOER = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emissions_signal_moer",
			Help: "Latest marginal operating emissions rate (lbs CO2/MWh) per region.",
		},
		[]string{"region"},
	)

	BackfillPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissions_backfill_points_total",
			Help: "Historical data points archived by backfill runs.",
		},
		[]string{"region"},
	)

	// Connected websocket stream subscribers.
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_connected_clients",
			Help: "Number of websocket clients subscribed to the signal stream.",
		},
	)
)

// ObserveDuration records the elapsed time since start on a histogram or
// summary vector.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not duration metrics; ignore
	}
}

func IncWattTimeRequest(endpoint, outcome string) {
	WattTimeRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastPoll(region string, t time.Time) {
	LastPollTimestamp.WithLabelValues(region).Set(float64(t.Unix()))
}

func SetSignalMOER(region string, moer float64) {
	SignalMOER.WithLabelValues(region).Set(moer)
}

func SetStreamClients(n int) {
	StreamClients.Set(float64(n))
}
