package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"

	"dispatch/internal/admission"
	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/handler"
	"dispatch/internal/metrics"
	"dispatch/internal/repository"
	"dispatch/internal/repository/memory"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
	"dispatch/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	setupLogging(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic first so the database and Redis clients can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			log.Warn().Err(err).Msg("new relic init failed, continuing without it")
			nrApp = nil
		} else {
			log.Info().Str("app", cfg.NewRelic.AppName).Msg("new relic enabled")
		}
	}

	var repo repository.RideRepository
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to database")
		}
		defer db.Close()
		repo = postgres.NewRideRepository(db)
		log.Info().Msg("using postgres ride store")
	default:
		repo = memory.NewRideRepository()
		log.Info().Msg("using in-memory ride store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to redis")
		}
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	server := wireServer(cfg, repo, redisClient, nrApp)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(cfg *config.Config, repo repository.RideRepository, redisClient *redis.Client, nrApp *newrelic.Application) *http.Server {
	m, err := metrics.New(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}

	hub := ws.NewHub(m, log.Logger)

	lifecycle := service.NewRideLifecycle(repo, hub, m, service.Settings{
		SearchRadiusKm:  cfg.Dispatch.SearchRadiusKm,
		MatchLimit:      cfg.Dispatch.MatchLimit,
		DefaultPageSize: cfg.Dispatch.DefaultPageSize,
		MaxPageSize:     cfg.Dispatch.MaxPageSize,
		AvgSpeedKmh:     cfg.Dispatch.AvgSpeedKmh,
	}, log.Logger)

	var store limiter.Store
	if redisClient != nil {
		store, err = admission.NewRedisStore(redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("create rate limit store")
		}
	} else {
		store = admission.NewMemoryStore()
	}
	gate := admission.New(cfg.Admission.Points, cfg.Admission.Window, store)

	router := app.NewRouter(app.RouterDeps{
		RideHandler: handler.NewRideHandler(lifecycle),
		Gateway:     handler.NewSocketGateway(hub, lifecycle),
		Gate:        gate,
		Metrics:     m,
		RedisClient: redisClient,
		NewRelicApp: nrApp,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
