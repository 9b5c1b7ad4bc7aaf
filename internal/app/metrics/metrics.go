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
			Namespace: "lottery_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lottery_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	depositsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "ledger",
			Name:      "deposits_total",
			Help:      "Total number of accepted deposits.",
		},
	)

	ticketsSoldTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "ledger",
			Name:      "tickets_sold_total",
			Help:      "Total number of tickets sold.",
		},
	)

	drawsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "rounds",
			Name:      "draws_requested_total",
			Help:      "Randomness requests issued per tier.",
		},
		[]string{"tier"},
	)

	drawsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "rounds",
			Name:      "draws_settled_total",
			Help:      "Settlements completed per tier.",
		},
		[]string{"tier"},
	)

	drawsReset = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "rounds",
			Name:      "draws_reset_total",
			Help:      "Stalled randomness requests reset per tier.",
		},
		[]string{"tier"},
	)

	payoutAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "rounds",
			Name:      "payout_amount_total",
			Help:      "Total value paid to winners per tier, in base units.",
		},
		[]string{"tier"},
	)

	tierPot = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lottery_engine",
			Subsystem: "rounds",
			Name:      "pot",
			Help:      "Current accrued pot per tier, in base units.",
		},
		[]string{"tier"},
	)

	bonusWithdrawals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "bonus",
			Name:      "withdrawals_total",
			Help:      "Total number of bonus withdrawals.",
		},
	)

	bonusPaidAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery_engine",
			Subsystem: "bonus",
			Name:      "paid_amount_total",
			Help:      "Total bonus value paid out, in base units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		depositsTotal,
		ticketsSoldTotal,
		drawsRequested,
		drawsSettled,
		drawsReset,
		payoutAmount,
		tierPot,
		bonusWithdrawals,
		bonusPaidAmount,
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

// RecordDeposit records an accepted deposit.
func RecordDeposit(tickets int64) {
	depositsTotal.Inc()
	ticketsSoldTotal.Add(float64(tickets))
}

// RecordDrawRequested records a randomness request for a tier.
func RecordDrawRequested(tier string) {
	drawsRequested.WithLabelValues(tier).Inc()
}

// RecordSettlement records a completed settlement and the value paid out.
func RecordSettlement(tier string, paid int64) {
	drawsSettled.WithLabelValues(tier).Inc()
	payoutAmount.WithLabelValues(tier).Add(float64(paid))
}

// RecordDrawReset records a stalled randomness request being reset.
func RecordDrawReset(tier string) {
	drawsReset.WithLabelValues(tier).Inc()
}

// SetTierPot updates the pot gauge for a tier.
func SetTierPot(tier string, pot int64) {
	tierPot.WithLabelValues(tier).Set(float64(pot))
}

// RecordBonusWithdrawal records a bonus payout.
func RecordBonusWithdrawal(amount int64) {
	bonusWithdrawals.Inc()
	bonusPaidAmount.Add(float64(amount))
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
	case "tiers":
		if len(parts) == 1 {
			return "/tiers"
		}
		if len(parts) == 2 {
			return "/tiers/:kind"
		}
		return "/tiers/:kind/" + parts[2]
	case "players":
		if len(parts) == 1 {
			return "/players"
		}
		if len(parts) == 2 {
			return "/players/:address"
		}
		return "/players/:address/" + strings.Join(parts[2:], "/")
	default:
		return "/" + parts[0]
	}
}
