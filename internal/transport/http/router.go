package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vericred/internal/platform/metrics"
	"vericred/internal/platform/middleware"
)

// Registrar mounts a feature's routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router composes. Identity and Verification are
// public; the rest sits behind bearer-token auth.
type Deps struct {
	Identity     Registrar
	Verification Registrar
	Templates    Registrar
	Credentials  Registrar
	Proofs       Registrar

	TokenValidator middleware.TokenValidator
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// NewRouter assembles the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Latency(d.Metrics, "auth"))
		d.Identity.Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Latency(d.Metrics, "verification"))
		d.Verification.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.TokenValidator, d.Logger))
		r.Group(func(r chi.Router) {
			r.Use(middleware.Latency(d.Metrics, "templates"))
			d.Templates.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Latency(d.Metrics, "credentials"))
			d.Credentials.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Latency(d.Metrics, "proofs"))
			d.Proofs.Register(r)
		})
	})

	return r
}
