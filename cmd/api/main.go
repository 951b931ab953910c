package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marvin-wtt/camp-registration-api/internal/auth"
	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/db"
	httpx "github.com/marvin-wtt/camp-registration-api/internal/http"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
	"github.com/marvin-wtt/camp-registration-api/internal/queue/redisclient"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/postgres"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger, trace ids attached when otel is on
	log := slog.New(observability.NewTraceHandler(observability.NewLogger(cfg.Env).Handler()))
	slog.SetDefault(log)

	ctx := context.Background()

	// tracing
	shutdownTracer, err := observability.InitTracer(ctx, "camp-registration-api", cfg.OTLPEndpoint)

	if err != nil {
		log.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	// db pool
	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}

	// metrics
	promReg := prometheus.NewRegistry()
	prom := observability.NewProm(promReg)

	// redis is optional, the list cache degrades to straight DB reads
	var redis *redisclient.Client

	if cfg.RedisAddr != "" {
		redis = redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redis.Close()

		pingCtx, cancel := config.WithTimeout(2 * time.Second)
		if err := redis.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable, list cache off", "err", err)
			redis = nil
		}
		cancel()
	}

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)

	store := postgres.NewStore(pool, prom)
	filesRepo := postgres.NewFilesRepo(pool, prom)
	coord := registrations.NewCoordinator(store, filesRepo, log)

	// set up routers with everything wired
	router := httpx.NewRouter(httpx.Deps{
		Cfg:     cfg,
		Log:     log,
		Pool:    pool,
		Prom:    prom,
		PromReg: promReg,
		Redis:   redis,
		JWT:     jwtManager,
		Coord:   coord,

		AllowedOrigins: cfg.CORSOrigins,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// start server using a concurrent go-routine driven anonymous function.

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()


	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctxTimeOut := 10 * time.Second

		ctx, cancel := config.WithTimeout(ctxTimeOut)

		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return
		}

		_ = shutdownTracer(ctx)
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
