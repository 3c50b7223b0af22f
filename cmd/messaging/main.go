package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-relay/internal/api"
	"github.com/LeventeLantos/whatsapp-relay/internal/background"
	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/config"
	"github.com/LeventeLantos/whatsapp-relay/internal/metrics"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-relay/internal/service"
	"github.com/LeventeLantos/whatsapp-relay/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(initLogger(cfg.Log))

	if err := run(cfg); err != nil {
		slog.Error("messaging app stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("messaging app starting",
		"addr", cfg.Server.Address,
		"redis", cfg.Redis.Enabled,
		"maxTasks", cfg.Background.MaxTasks,
		"sweeper", cfg.Sweeper.Enabled,
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}
	if err := repo.Migrate(pingCtx, db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	messages := repo.NewPostgresMessageRepo(db)
	contacts := repo.NewPostgresContactRepo(db)
	tenants := repo.NewPostgresTenantRepo(db)
	var creds repo.CredentialRepository = repo.NewPostgresCredentialRepo(db)

	var sentCache cache.MessageCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, continuing without cache", "err", err)
		} else {
			sentCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
			creds = cache.NewCredentialCache(rdb, creds, cfg.Redis.TTL)
		}
	}

	store, err := storage.NewFileStore(cfg.Media.Root, cfg.Media.PublicURL)
	if err != nil {
		return err
	}

	executor := background.NewExecutor(int64(cfg.Background.MaxTasks)).WithGauge(m.BackgroundTasks)
	wa := client.NewWhatsAppClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.APIVersion, cfg.WhatsApp.Timeout)

	relay := service.NewRelay(tenants, creds, contacts, messages, wa, executor).WithMetrics(m)
	if sentCache != nil {
		relay.WithCache(sentCache)
	}

	sweeper := service.NewStaleSweeper(messages, cfg.Sweeper.StaleAfter, m)
	sched, err := scheduler.New("stale-sweep", cfg.Sweeper.Interval, sweeper.Tick)
	if err != nil {
		return err
	}
	if cfg.Sweeper.Enabled {
		sched.Start()
	}

	h := api.NewHandler(sched, messages, relay, store)
	router := api.Router(h, api.Routes{
		Media:   store.Handler(),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           countRequests(m, loggingMiddleware(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "err", err)
	}
	sched.Stop()

	if err := executor.Shutdown(shutdownCtx); err != nil {
		slog.Warn("background tasks interrupted", "err", err)
	}

	slog.Info("messaging app stopped")
	return nil
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
