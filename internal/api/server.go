package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/api/handlers"
	"github.com/spellyaohui/NicePT-Helper/internal/api/middleware"
	"github.com/spellyaohui/NicePT-Helper/internal/config"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
)

// Services are the components the HTTP surface exposes
type Services struct {
	DB          *models.Database
	Accounts    *controllers.AccountService
	Downloaders *controllers.DownloaderService
	HR          *controllers.HRTracker
	Stats       *controllers.StatsCollector
	Scheduler   handlers.Scheduler
	Login       handlers.LoginFlow
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, svc Services, logger *logrus.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      NewRouter(cfg, svc, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute, // manual job triggers run inline
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the route tree: the JSON API under /api plus health and metrics
func NewRouter(cfg *config.Config, svc Services, logger *logrus.Logger) http.Handler {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.NewHealthHandler(svc.Scheduler, logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/accounts", handlers.NewAccountHandler(svc.DB, svc.Accounts, logger).Routes())
		r.Mount("/rules", handlers.NewRuleHandler(svc.DB, logger).Routes())
		r.Mount("/downloaders", handlers.NewDownloaderHandler(svc.DB, svc.Downloaders, logger).Routes())
		r.Mount("/history", handlers.NewHistoryHandler(svc.DB, svc.Scheduler, logger).Routes())
		r.Mount("/hr", handlers.NewHRHandler(svc.HR, svc.Scheduler, logger).Routes())
		r.Mount("/settings", handlers.NewSettingsHandler(svc.DB, svc.Scheduler, logger).Routes())
		r.Mount("/dashboard", handlers.NewDashboardHandler(svc.Stats, logger).Routes())
		r.Mount("/site-login", handlers.NewSiteLoginHandler(svc.Login, svc.Accounts, logger).Routes())
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
