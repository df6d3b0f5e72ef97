// Package metrics объявляет метрики Prometheus биллингового ядра.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genbilling_webhook_events_total",
			Help: "Webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genbilling_ledger_operations_total",
			Help: "Credit ledger operations by type and result",
		},
		[]string{"type", "result"},
	)

	LedgerRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genbilling_ledger_retries_total",
			Help: "Ledger operations retried after a concurrency conflict",
		},
	)

	LimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genbilling_limit_decisions_total",
			Help: "Rate-limit decisions by tier and result",
		},
		[]string{"tier", "result"},
	)

	DualWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genbilling_dual_write_failures_total",
			Help: "Failed writes to the legacy subscription columns",
		},
	)

	DivergenceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genbilling_divergence",
			Help: "Records found diverging by the last reconciliation run",
		},
		[]string{"kind"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genbilling_http_request_duration_seconds",
			Help:    "HTTP request duration by method and status",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "status"},
	)
)

// RecordWebhook учитывает обработанную доставку вебхука.
func RecordWebhook(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordLedger учитывает операцию журнала.
func RecordLedger(typ, result string) {
	LedgerOperationsTotal.WithLabelValues(typ, result).Inc()
}

// RecordLimitDecision учитывает решение оценщика лимитов.
func RecordLimitDecision(tier string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	LimitDecisionsTotal.WithLabelValues(tier, result).Inc()
}

// Middleware замеряет длительность HTTP-запросов.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
