package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/db"
	"github.com/marvin-wtt/camp-registration-api/internal/notifications"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
	"github.com/marvin-wtt/camp-registration-api/internal/queue/redisclient"
	"github.com/marvin-wtt/camp-registration-api/internal/queue/worker"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env).With("component", "worker")
	slog.SetDefault(log)

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	jobsRepo := postgres.NewJobsRepo(pool, nil)
	deliveriesRepo := postgres.NewNotificationDeliveriesRepo(pool)
	filesRepo := postgres.NewFilesRepo(pool, nil)

	// redis heartbeat, optional
	var redis *redisclient.Client

	if cfg.RedisAddr != "" {
		redis = redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redis.Close()
	}

	notifier := notifications.NewProtectedNotifier(
		notifications.NewLogNotifier(log),
		notifications.ProtectedNotifierConfig{},
	)

	w := worker.New(worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		LockTTL:      cfg.WorkerLockTTL,
	}, jobsRepo, deliveriesRepo, notifier, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// health endpoint on a side port
	healthSrv := &http.Server{
		Addr:              ":8081",
		Handler:           w.HealthHandler(pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "err", err)
		}
	}()

	// stray uploads that never made it into a submission get swept hourly
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := filesRepo.DeleteOrphans(ctx, 24*time.Hour)
				if err != nil {
					log.Error("orphan sweep failed", "err", err)
					continue
				}
				if n > 0 {
					log.Info("swept orphan uploads", "count", n)
				}
			}
		}
	}()

	// redis heartbeat keeps an external liveness signal alive
	if redis != nil {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					if err := redis.Ping(pingCtx); err != nil {
						log.Warn("redis heartbeat failed", "err", err)
					}
					cancel()
				}
			}
		}()
	}

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
