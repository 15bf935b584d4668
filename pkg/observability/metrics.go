package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Credential flow metrics
	RegistrationsTotal   prometheus.Counter
	LoginsTotal          *prometheus.CounterVec
	SessionsRevokedTotal prometheus.Counter
	ConfirmationsTotal   *prometheus.CounterVec
	PasswordResetsTotal  *prometheus.CounterVec
	RateLimitHitsTotal   *prometheus.CounterVec

	// Mail metrics
	MailSendTotal *prometheus.CounterVec

	// Token store metrics
	TokenOperationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commune_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RegistrationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commune_registrations_total",
				Help: "Total number of successful registrations",
			},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_logins_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionsRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commune_sessions_revoked_total",
				Help: "Total number of revoked session tokens",
			},
		),
		ConfirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_email_confirmations_total",
				Help: "Total number of email confirmation attempts by outcome",
			},
			[]string{"outcome"},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_password_resets_total",
				Help: "Total number of password reset operations by stage",
			},
			[]string{"stage"},
		),
		RateLimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_rate_limit_hits_total",
				Help: "Total number of rejected requests per limiter",
			},
			[]string{"limiter"},
		),
		MailSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_mail_send_total",
				Help: "Total number of mail send attempts by outcome",
			},
			[]string{"kind", "outcome"},
		),
		TokenOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commune_token_operations_total",
				Help: "Total number of token store operations",
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RegistrationsTotal,
		m.LoginsTotal,
		m.SessionsRevokedTotal,
		m.ConfirmationsTotal,
		m.PasswordResetsTotal,
		m.RateLimitHitsTotal,
		m.MailSendTotal,
		m.TokenOperationsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
