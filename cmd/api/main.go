package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/fieldtrack/attendance/internal/attendance"
	"github.com/fieldtrack/attendance/internal/geofence"
	"github.com/fieldtrack/attendance/internal/http/handlers"
	appmw "github.com/fieldtrack/attendance/internal/http/middleware"
	"github.com/fieldtrack/attendance/internal/repo/postgres"
	"github.com/fieldtrack/attendance/internal/session"
	"github.com/fieldtrack/attendance/internal/spoofing"
	"github.com/fieldtrack/attendance/internal/store"
	"github.com/fieldtrack/attendance/internal/syncer"
	"github.com/fieldtrack/attendance/pkg/config"
	"github.com/fieldtrack/attendance/pkg/database"
	"github.com/fieldtrack/attendance/pkg/events"
	"github.com/fieldtrack/attendance/pkg/logger"
	mw "github.com/fieldtrack/attendance/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	counters := newCounterStore(cfg)

	// Repositories
	attendanceRepo := postgres.NewAttendanceRepo(pool)
	facilityRepo := postgres.NewFacilityRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	deviceRepo := postgres.NewDeviceRepo(pool)
	activityRepo := postgres.NewActivityRepo(pool)

	// Core services
	geoValidator := geofence.NewValidator(facilityRepo, geofence.Haversine)
	spoofDetector := spoofing.NewDetector(attendanceRepo, activityRepo)
	spoofDetector.Tune(cfg.Spoofing.MaxAccuracyMeters, cfg.Spoofing.SuspiciousAccuracyMeters, cfg.Spoofing.MaxSpeedKMH)
	engine := attendance.NewEngine(attendanceRepo, geoValidator, spoofDetector, activityRepo, eventBus)
	reconciler := syncer.NewReconciler(attendanceRepo, eventBus)
	sessions := session.NewManager(sessionRepo, deviceRepo, eventBus, cfg.Auth.SessionTTL)
	authenticator := session.NewAuthenticator(userRepo, sessions, cfg.Auth)

	// Handlers
	authHandler := handlers.NewAuthHandler(authenticator, sessions)
	attendanceHandler := handlers.NewAttendanceHandler(engine, reconciler, cfg.Sync.MaxBatchSize)

	loginLimiter := appmw.NewRateLimiter(counters, appmw.RateLimitConfig{
		Requests: cfg.RateLimit.LoginRequests,
		Window:   cfg.RateLimit.LoginWindow,
		KeyFunc:  appmw.LoginRateLimitKeyFunc,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("attendance"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimiter.Middleware()).Post("/login", authHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(appmw.RequireSession(sessions))
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
			})
		})
		r.With(appmw.RequireSession(sessions)).Mount("/attendance", attendanceHandler.Routes())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting attendance service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Auth.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := sessions.CleanupExpired(gctx); err != nil {
					logger.Error("Session cleanup failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down attendance service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Attendance service error", "error", err)
		os.Exit(1)
	}
}

// newCounterStore picks redis when configured, otherwise the in-process store.
func newCounterStore(cfg *config.Config) store.CounterStore {
	if cfg.Redis.URL == "" {
		logger.Info("Rate limiting backed by in-memory store")
		return store.NewMemoryStore()
	}
	rs, err := store.NewRedisStore(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("Failed to connect to redis, falling back to in-memory store", "error", err)
		return store.NewMemoryStore()
	}
	logger.Info("Rate limiting backed by redis")
	return rs
}
