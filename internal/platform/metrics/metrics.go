package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments shared across features. A single
// struct keeps registration in one place; features that need nothing beyond
// a counter take the whole struct and ignore the rest.
type Metrics struct {
	IdentitiesCreated  prometheus.Counter
	AuthAttempts       *prometheus.CounterVec
	RateLimitDenials   prometheus.Counter
	CredentialsIssued  prometheus.Counter
	CredentialsRevoked prometheus.Counter
	Verifications      *prometheus.CounterVec
	ProofRequests      prometheus.Counter
	ProofResponses     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		IdentitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vericred_identities_created_total",
			Help: "Total number of identities created via wallet authentication",
		}),
		AuthAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vericred_auth_attempts_total",
			Help: "Wallet authentication attempts by outcome",
		}, []string{"outcome"}),
		RateLimitDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vericred_auth_rate_limit_denials_total",
			Help: "Authentication attempts denied by the rate limiter",
		}),
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vericred_credentials_issued_total",
			Help: "Total number of credentials issued",
		}),
		CredentialsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vericred_credentials_revoked_total",
			Help: "Total number of credentials revoked",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vericred_verifications_total",
			Help: "Credential verifications by overall status",
		}, []string{"status"}),
		ProofRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vericred_proof_requests_created_total",
			Help: "Total number of proof requests created",
		}),
		ProofResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vericred_proof_responses_total",
			Help: "Proof responses by status transition",
		}, []string{"status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vericred_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}
