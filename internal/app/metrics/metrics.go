package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Total number of ledger entry applications.",
		},
		[]string{"reason", "outcome"},
	)

	ledgerApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "apply_duration_seconds",
			Help:      "Duration of ledger entry applications.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"reason"},
	)

	commissionCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "commission",
			Name:      "credits_total",
			Help:      "Total number of commission credits by referral depth.",
		},
		[]string{"depth"},
	)

	distributionRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "dividend",
			Name:      "distribution_rounds_total",
			Help:      "Total number of dividend distribution rounds.",
		},
		[]string{"pool", "resumed"},
	)

	distributionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards_core",
			Subsystem: "dividend",
			Name:      "distribution_duration_seconds",
			Help:      "Duration of dividend distribution rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"pool"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerApplies,
		ledgerApplyDuration,
		commissionCredits,
		distributionRounds,
		distributionDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLedgerApply records one ledger entry application.
func RecordLedgerApply(reason string, duration time.Duration, outcome string) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	ledgerApplies.WithLabelValues(reason, outcome).Inc()
	ledgerApplyDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordCommissionCredit records one commission credit at the given depth.
func RecordCommissionCredit(depth int) {
	commissionCredits.WithLabelValues(strconv.Itoa(depth)).Inc()
}

// RecordDistributionRound records one distribution round for a pool.
func RecordDistributionRound(pool string, duration time.Duration, resumed bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	distributionRounds.WithLabelValues(pool, strconv.FormatBool(resumed)).Inc()
	distributionDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:account"
		}
		return "/accounts/:account/" + parts[2]
	case "pools":
		if len(parts) == 1 {
			return "/pools"
		}
		if len(parts) == 2 {
			return "/pools/:pool"
		}
		return "/pools/:pool/" + parts[2]
	case "referrals":
		if len(parts) == 1 {
			return "/referrals"
		}
		return "/referrals/:referee"
	case "membership":
		if len(parts) >= 3 {
			return "/membership/:account/" + parts[2]
		}
		return "/membership"
	default:
		return "/" + parts[0]
	}
}
