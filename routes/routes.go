package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/Dosada05/palanteer/docs"
	"github.com/Dosada05/palanteer/handlers"
	"github.com/Dosada05/palanteer/middleware"
	"github.com/Dosada05/palanteer/models"
)

type Handlers struct {
	Competitions *handlers.CompetitionHandler
	Submissions  *handlers.SubmissionHandler
	Leaderboard  *handlers.LeaderboardHandler
	WebSocket    *handlers.WebSocketHandler
	Health       *handlers.HealthHandler
}

type Options struct {
	Auth        *middleware.Authenticator
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(middleware.Metrics)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", h.Health.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	router.With(opts.Auth.Optional).Get("/ws/competitions/{competitionID}", h.WebSocket.ServeWs)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(60 * time.Second))
		r.Use(opts.Auth.Optional)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}

		r.Route("/competitions", func(r chi.Router) {
			r.Get("/", h.Competitions.ListCompetitions)
			r.With(middleware.RequireAuth, middleware.RequireRole(models.RoleOrganizer, models.RoleAdmin)).
				Post("/", h.Competitions.CreateCompetition)

			r.Route("/{competitionID}", func(r chi.Router) {
				r.Get("/", h.Competitions.GetCompetition)
				r.Get("/leaderboard", h.Leaderboard.GetLeaderboard)
				r.Get("/leaderboard/participants/{participantID}", h.Leaderboard.GetParticipantRank)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAuth)

					r.Post("/submissions", h.Submissions.SubmitPrediction)
					r.Get("/submissions/me", h.Submissions.ListMySubmissions)
					r.Get("/quota", h.Submissions.GetQuota)

					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(models.RoleOrganizer, models.RoleAdmin))
						r.Put("/", h.Competitions.UpdateCompetition)
						r.Patch("/status", h.Competitions.UpdateCompetitionStatus)
						r.Put("/ground-truth", h.Competitions.UploadGroundTruth)
					})
					r.With(middleware.RequireRole(models.RoleAdmin)).Post("/rebuild", h.Competitions.RebuildLeaderboard)
				})
			})
		})

		r.Route("/submissions/{submissionID}", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/", h.Submissions.GetSubmission)
			r.With(middleware.RequireRole(models.RoleAdmin)).Delete("/", h.Submissions.DeleteSubmission)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("{\"error\": \"the requested resource could not be found\"}\n"))
	})
}
