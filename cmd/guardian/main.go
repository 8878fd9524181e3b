// Command guardian serves the engine over HTTP with PostgreSQL for durable
// data and, when configured, Redis for sessions and rate-limit counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/internal/httpapi"
	promexport "github.com/MrEthical07/guardian/metrics/export/prometheus"
	"github.com/MrEthical07/guardian/store/postgres"
)

type serverConfig struct {
	Addr          string        `env:"GUARDIAN_HTTP_ADDR" envDefault:":8080"`
	DatabaseURL   string        `env:"GUARDIAN_DATABASE_URL,required"`
	RedisAddr     string        `env:"GUARDIAN_REDIS_ADDR"`
	RedisPassword string        `env:"GUARDIAN_REDIS_PASSWORD"`
	SweepInterval time.Duration `env:"GUARDIAN_SESSION_SWEEP_INTERVAL" envDefault:"10m"`
	LogLevel      slog.Level    `env:"GUARDIAN_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var sc serverConfig
	if err := env.Parse(&sc); err != nil {
		return fmt.Errorf("parse server env: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: sc.LogLevel}))
	slog.SetDefault(logger)

	cfg, err := guardian.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	for _, w := range cfg.Lint() {
		logger.Warn("config lint",
			slog.String("code", w.Code),
			slog.String("severity", w.Severity.String()),
			slog.String("message", w.Message),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, sc.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	directory := postgres.NewDirectory(pool)
	grants := postgres.NewGrantRepository(pool)

	b := guardian.New().
		WithConfig(cfg).
		WithUserRepository(postgres.NewUserRepository(pool)).
		WithGrantRepository(grants).
		WithResourceDirectory(directory).
		WithLogger(logger).
		WithAuditSink(guardian.NewSlogSink(logger, slog.LevelInfo))

	if sc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: sc.RedisAddr, Password: sc.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		b = b.WithRedis(rdb)
	} else {
		b = b.WithSessionStore(postgres.NewSessionStore(pool)).
			WithCounterStore(postgres.NewCounterStore(pool))
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: sc.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Engine:   engine,
			Children: directory,
			Grants:   grants,
			Metrics:  promexport.Handler(promexport.NewCollector(engine)),
			Logger:   logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sweepSessions(ctx, engine, sc.SweepInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", sc.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepSessions(ctx context.Context, engine *guardian.Engine, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := engine.SweepExpiredSessions(ctx); err != nil {
				logger.Warn("session sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
