package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.cfg.RateLimit.Enabled {
		r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.RequestsPerMinute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/report", s.handleReport)
		r.Get("/runs", s.handleListRuns)

		// Test identifiers contain slashes, so the run route is a
		// catch-all rather than a single path segment.
		r.Get("/runs/*", s.handleRun)

		if s.historyStore != nil {
			r.Route("/history", func(r chi.Router) {
				r.Get("/reports", s.handleHistoryReports)
				r.Get("/reports/{reportID}/runs", s.handleHistoryRuns)
				r.Get("/failing", s.handleHistoryFailing)
			})
		}

		if s.published != nil {
			r.Route("/published", func(r chi.Router) {
				r.Get("/reports", s.handlePublishedReports)
				r.Get("/reports/{bundle}", s.handlePublishedReport)
			})
		}

		if s.attachmentsDir != "" {
			fs := http.StripPrefix(
				"/api/v1/attachments/",
				http.FileServer(http.Dir(s.attachmentsDir)),
			)
			r.Get("/attachments/*", fs.ServeHTTP)
			r.Head("/attachments/*", fs.ServeHTTP)
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the serve config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
