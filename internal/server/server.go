// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it opens the database, builds the
// services, hands them to the handlers and mounts everything on one chi
// router. No other package constructs a dependency it does not own.
//
// DEPENDENCY FLOW:
//
//	config.Config ─┬─ sqlite.DB ──── MarkerService ── MarkerHandler
//	               │             └── AuthService ──── AuthHandler
//	               └─ NominatimClient ── GeocodeService ── GeocodeHandler
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/config"
	"github.com/sakif/map-markers/internal/geocoding"
	"github.com/sakif/map-markers/internal/handler"
	"github.com/sakif/map-markers/internal/middleware"
	sqliteRepo "github.com/sakif/map-markers/internal/repository/sqlite"
	"github.com/sakif/map-markers/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection. Run closes it after the HTTP
// server has drained, so pending writes are flushed and the file lock released.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
}

// New opens the database, seeds the admin account and wires all routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Warn("auth.jwt_secret not set, using a random secret; sessions end on restart")
	}

	tokens, err := auth.NewTokenService(secret, cfg.Auth.SessionTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}

	authService := service.NewAuthService(db.Users(), tokens, auth.NewPasswordService(cfg.Auth.BcryptCost), logger)
	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding admin account: %w", err)
	}

	s.setupRoutes(authService)
	return s, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                  → liveness + DB ping
//	GET    /metrics                  → Prometheus exposition
//	POST   /api/auth/login           → password login (rate limited)
//	POST   /api/auth/logout          → clear session cookie
//	GET    /api/auth/session         → who am I
//	GET    /auth/github/login        → OAuth redirect (only when configured)
//	GET    /auth/github/callback     → OAuth callback (only when configured)
//	GET    /api/markers              → list own markers           [auth]
//	POST   /api/markers              → create marker              [auth]
//	GET    /api/markers/{id}         → get own marker             [auth]
//	PATCH  /api/markers/{id}         → partial update             [auth]
//	DELETE /api/markers/{id}         → delete                     [auth]
//	GET    /api/geocode?q=           → address search             [auth, rate limited]
//	GET    /api/geocode/reverse      → reverse lookup             [auth, rate limited]
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID - assigns unique ID to each request (for tracing)
//  2. RealIP - extracts real client IP from proxy headers, used by the rate limiters
//  3. Logger and Metrics - observe the final status of every request
//  4. Recoverer - turns panics into 500s, inside Logger so those are logged too
//  5. CORS - answers preflight requests from the map frontend
func (s *Server) setupRoutes(authService *service.AuthService) {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Services ===
	markerService := service.NewMarkerService(s.db.Markers(), s.logger)

	geocoder := geocoding.NewNominatimClient(geocoding.Config{
		BaseURL:           cfg.Geocoding.BaseURL,
		UserAgent:         cfg.Geocoding.UserAgent,
		SearchLanguage:    cfg.Geocoding.SearchLanguage,
		ReverseLanguage:   cfg.Geocoding.ReverseLanguage,
		Timeout:           cfg.Geocoding.Timeout,
		RequestsPerSecond: cfg.Geocoding.RequestsPerSecond,
		Burst:             cfg.Geocoding.Burst,
		BreakerFailures:   uint32(cfg.Geocoding.BreakerFailures),
		BreakerTimeout:    cfg.Geocoding.BreakerTimeout,
	}, s.logger.With(slog.String("component", "geocoding")))
	geocodeService := service.NewGeocodeService(geocoder, s.logger)

	var github handler.GitHubAuthenticator
	if cfg.GitHub.Enabled() {
		callback := cfg.GitHub.CallbackURL
		if callback == "" {
			callback = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
		}
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, callback)
	}

	// === Handlers ===
	healthHandler := handler.NewHealthHandler(s.db, s.logger)
	authHandler := handler.NewAuthHandler(authService, github, cfg.Auth.SecureCookies, s.logger)
	markerHandler := handler.NewMarkerHandler(markerService, s.logger)
	geocodeHandler := handler.NewGeocodeHandler(geocodeService)

	// === Operational routes ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === GitHub OAuth ===
	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	// === API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(perMinuteLimit(cfg.Server.LoginRateLimit)).Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(auth.OptionalAuth(s.tokens)).Get("/session", authHandler.HandleSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Use(handler.RequireKnownUser(authService))

			r.Route("/markers", func(r chi.Router) {
				r.Get("/", markerHandler.HandleList)
				r.Post("/", markerHandler.HandleCreate)
				r.Get("/{id}", markerHandler.HandleGet)
				r.Patch("/{id}", markerHandler.HandleUpdate)
				r.Delete("/{id}", markerHandler.HandleDelete)
			})

			r.Route("/geocode", func(r chi.Router) {
				r.Use(perMinuteLimit(cfg.Server.GeocodeRateLimit))
				r.Get("/", geocodeHandler.HandleSearch)
				r.Get("/reverse", geocodeHandler.HandleReverse)
			})
		})
	})
}

// perMinuteLimit limits requests per client IP. Zero disables the limiter.
func perMinuteLimit(n int) func(http.Handler) http.Handler {
	if n <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(n, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(handler.RateLimited),
	)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (server.shutdown_timeout)
//  3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Database.Path),
			slog.Bool("github", s.config.GitHub.Enabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}
