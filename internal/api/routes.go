package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	interviews *Interviews
	middleware *Middleware
	config     *config.Config
	gatherer   prometheus.Gatherer
	logger     *logger.Logger
}

// NewRouter creates a new API router. A nil gatherer serves the default
// Prometheus registry.
func NewRouter(c Coach, interviews *Interviews, cfg *config.Config, gatherer prometheus.Gatherer, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Router{
		handler:    NewHandler(c, interviews, log),
		interviews: interviews,
		middleware: NewMiddleware(log),
		config:     cfg,
		gatherer:   gatherer,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Generation
		router.Post("/personas", r.handler.GeneratePersona)
		router.Post("/feedback", r.handler.GenerateFeedback)

		// Live interview
		router.Get("/interview/ws", r.interviews.ServeWS)
		router.Get("/interview/status", r.handler.GetInterviewStatus)
		router.Get("/interview/audio", r.handler.StreamInterviewAudio)
		router.Head("/interview/audio", r.handler.StreamInterviewAudio)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	if r.config.Metrics.Enabled {
		path := r.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}

	return router
}
