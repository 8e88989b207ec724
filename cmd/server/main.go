package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"idproof/internal/platform/config"
	"idproof/internal/platform/httpserver"
	"idproof/internal/platform/kafka"
	"idproof/internal/platform/logger"
	"idproof/internal/platform/postgres"
	"idproof/internal/platform/redis"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Server.IsProduction() && cfg.Flow.ContactDevCode != "" {
		return errors.New("IDPROOF_CONTACT_DEV_CODE must be empty in production")
	}

	backends, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	app, err := buildApp(cfg, backends, log)
	if err != nil {
		return err
	}
	defer app.audit.Close()

	srv := httpserver.New(cfg.Server.Addr, app.router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting idproof", "addr", cfg.Server.Addr, "env", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if app.repeater.Enabled() {
		g.Go(func() error {
			if err := app.repeater.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server shut down")
		return nil
	})
	return g.Wait()
}

// infra holds the optional backing services. Nil fields mean the in-memory
// implementation is used.
type infra struct {
	redis *redis.Client
	db    *sql.DB
	kafka *kafka.Producer
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.redis = rc

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		in.Close()
		return nil, err
	}
	if db != nil {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			in.Close()
			return nil, err
		}
		in.db = db
	}

	producer, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		in.Close()
		return nil, err
	}
	if producer != nil {
		if err := producer.EnsureTopic(ctx); err != nil {
			producer.Close()
			in.Close()
			return nil, err
		}
		in.kafka = producer
	}

	log.Info("infrastructure ready",
		"redis", in.redis != nil,
		"postgres", in.db != nil,
		"kafka", in.kafka != nil,
	)
	return in, nil
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}
