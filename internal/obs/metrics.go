package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_ready",
		Help: "1 when the console API dependencies are reachable.",
	})
)

// Метрики жизненного цикла сессий и паролей
var (
	adminResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_password_resets_total",
			Help: "Admin password reset attempts by outcome.",
		},
		[]string{"outcome"},
	)

	auditFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be written.",
	})

	recoveryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_transitions_total",
			Help: "Password recovery state transitions.",
		},
		[]string{"flow", "state"},
	)

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Identity provider events handled by the dispatcher.",
		},
		[]string{"kind", "outcome"},
	)

	droppedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_events_dropped_total",
		Help: "Identity provider events dropped because a subscriber was slow.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			adminResetsTotal, auditFailuresTotal, recoveryTransitionsTotal,
			authEventsTotal, droppedEventsTotal,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var knownPaths = map[string]struct{}{
	"/":                                  {},
	"/healthz":                           {},
	"/readyz":                            {},
	"/metrics":                           {},
	"/v1/info":                           {},
	"/v1/admin/reset-password":           {},
	"/functions/v1/admin-reset-password": {},
}

// CanonicalPath keeps label cardinality bounded: unknown paths collapse to "other".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// SetReady records readiness of downstream dependencies.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// RecordAdminReset counts admin reset outcomes (ok, unauthorized, forbidden, invalid, failed).
func RecordAdminReset(outcome string) {
	adminResetsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuditFailure counts swallowed audit write failures.
func RecordAuditFailure() {
	auditFailuresTotal.Inc()
}

// RecordRecovery counts a recovery flow transition.
func RecordRecovery(flow, state string) {
	recoveryTransitionsTotal.WithLabelValues(flow, state).Inc()
}

// RecordAuthEvent counts a dispatched identity event.
func RecordAuthEvent(kind, outcome string) {
	authEventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDroppedEvent counts an event not delivered to a slow subscriber.
func RecordDroppedEvent() {
	droppedEventsTotal.Inc()
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
