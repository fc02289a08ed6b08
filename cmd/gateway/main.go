package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/logger"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/schedule"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

func main() {
	cfgPath := flag.String("config", envOr("CONFIG_FILE", "config.yaml"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	log := logger.Configure(logger.Config{Level: logger.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	defer dbh.Close()

	catalog := exam.NewSQLCatalog(dbh)
	if cfg.SeedFile != "" {
		seedCatalog(ctx, log, catalog, cfg.SeedFile)
	}
	siteID := string(cfg.Mode) + "@" + hostname()
	events := syncx.NewEventRepo(siteID)
	store := attempt.NewSQLStore(dbh, events)

	// --- Scheduler ---
	reg := schedule.NewRegistry(logger.WithComponent("jobs"))
	var (
		queue  schedule.Runner
		checks = map[string]api.Check{"db": dbh.PingContext}
	)
	switch cfg.Scheduler.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		queue = schedule.NewRedisQueue(rdb, reg, schedule.RedisOptions{
			Prefix:       cfg.Redis.Prefix,
			PollInterval: cfg.Scheduler.PollInterval,
			Backoff:      cfg.Scheduler.RetryBackoff,
		}, log)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		log.Warn().Msg("in-memory scheduler: pending deadlines are lost on restart and recovered by the sweeper")
		queue = schedule.NewMemoryQueue(reg, cfg.Scheduler.RetryBackoff, log)
	}

	svc := attempt.NewService(store, catalog, queue,
		attempt.WithLogger(logger.WithComponent("attempt")),
		attempt.WithJobMaxAttempts(cfg.Scheduler.MaxAttempts),
	)
	svc.RegisterJobs(reg)

	workers := make(chan error, 1)
	go func() { workers <- queue.Run(ctx) }()
	if cfg.Scheduler.SweepInterval > 0 {
		go sweep(ctx, log, svc, cfg.Scheduler.SweepInterval, cfg.Scheduler.SweepGrace)
	}

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logger.RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/token", auth.DevTokenHandler(authSvc))
	}

	// Protected API (JWT → subject and role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/exam-attempts", func(ar chi.Router) { api.MountAttempts(ar, svc) })
		pr.With(rbac.Require("events:read")).Get("/events", api.EventsHandler(
			func(ctx context.Context, after int64, limit int) ([]syncx.Event, error) {
				return events.Since(ctx, dbh, after, limit)
			}))
	})

	r.Get("/healthz", api.HealthHandler())
	r.Get("/readyz", api.ReadyHandler(checks))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("mode", string(cfg.Mode)).Str("db", cfg.DBDriver).
			Str("scheduler", cfg.Scheduler.Backend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := <-workers; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scheduler stopped")
	}
}

// sweep finalizes attempts whose deadline job never ran.
func sweep(ctx context.Context, log zerolog.Logger, svc *attempt.Service, every, grace time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.SweepOverdue(ctx, grace); err != nil {
				log.Error().Err(err).Msg("overdue sweep")
			}
		}
	}
}

func seedCatalog(ctx context.Context, log zerolog.Logger, c *exam.SQLCatalog, path string) {
	n, err := c.CountExams(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("count exams")
	}
	if n > 0 {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("open seed")
	}
	defer f.Close()
	loaded, err := exam.LoadSeed(ctx, f, c)
	if err != nil {
		log.Fatal().Err(err).Msg("load seed")
	}
	log.Info().Int("exams", loaded).Str("path", path).Msg("catalog seeded")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
