package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mealgen/internal/metrics"
	"mealgen/internal/middleware"
)

// Options configure the router.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir serves filesystem-stored images under /static when set.
	StaticDir string
}

func NewRouter(app *App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Account,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.Locale(nil),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.SubmitJob)
		r.Get("/{job_id}", app.GetJob)
		r.Get("/{job_id}/stream", app.StreamJob)
		r.Post("/{job_id}/cancel", app.CancelJob)
	})
	r.Get("/v1/quota", app.Quota)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Handle("/static/*", fs)
	}
	return r
}
