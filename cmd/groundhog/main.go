package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-groundhog/v1/adapter"
	"github.com/mirkobrombin/go-groundhog/v1/metrics"
	"github.com/mirkobrombin/go-groundhog/v1/presets"
	"github.com/mirkobrombin/go-groundhog/v1/procache"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(flag.NewFlagSet("groundhog", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	opts := []procache.Option[[]string]{
		procache.WithLogger[[]string](logger),
		procache.WithMetrics[[]string](reg),
		procache.WithTracing[[]string](),
		procache.WithComputeTimeout[[]string](cfg.ComputeTimeout),
		procache.WithClone(slices.Clone[[]string]),
	}

	setup, err := newSetup(ctx, cfg, defaultSeed(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := setup.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}()
	if err := setup.Start(ctx); err != nil {
		return fmt.Errorf("start reloader: %w", err)
	}

	if err := demo(ctx, setup, logger); err != nil {
		return err
	}
	if !cfg.Serve {
		return nil
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: newMux(setup, reg, logger), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving", "addr", cfg.HTTPAddr, "reloader", setup.Reloader.ID())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// defaultSeed declares the state every load starts from: a fixed favorite
// list and a session id that is generated on first use.
func defaultSeed() procache.Seed[[]string] {
	return procache.Seed[[]string]{
		Values: map[string][]string{
			"favorite": {"a", "b", "c"},
		},
		Compute: map[string]procache.ComputeFunc[[]string]{
			"session_id": func(ctx context.Context) ([]string, error) {
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return []string{uuid.NewString()}, nil
			},
		},
	}
}

func newSetup(ctx context.Context, cfg Config, seed procache.Seed[[]string], opts []procache.Option[[]string]) (*presets.Setup[[]string], error) {
	var setup *presets.Setup[[]string]
	breaker := presets.BreakerOptions{Threshold: cfg.BreakerThreshold, Cooldown: cfg.BreakerCooldown}
	switch {
	case cfg.RedisAddr != "":
		setup = presets.NewRedisBacked(presets.RedisOptions{
			Addr:    cfg.RedisAddr,
			Prefix:  cfg.RedisPrefix,
			Topic:   cfg.Topic,
			Breaker: breaker,
		}, seed, opts...)
	case cfg.NATSURL != "":
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		setup = presets.NewNATSBacked(conn, presets.NATSOptions{Topic: cfg.Topic, Breaker: breaker}, seed, opts...)
		setup.OnClose(func() error {
			conn.Close()
			return nil
		})
	case cfg.DBPath != "":
		db, err := adapter.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		store, err := adapter.NewSQLStore[[]string](ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		setup = presets.NewPersistent[[]string](store, seed, opts...)
		setup.OnClose(db.Close)
	default:
		setup = presets.NewStandalone(seed, opts...)
	}
	return setup, nil
}

// demo walks through memoization, overwrite and reset.
func demo(ctx context.Context, s *presets.Setup[[]string], logger *slog.Logger) error {
	fav, err := s.Cache.Get(ctx, "favorite")
	if err != nil {
		return err
	}
	logger.Info("loaded", "favorite", fav)

	prev := s.Cache.Set(ctx, "favorite", []string{"j", "f", "b"})
	cur, _ := s.Cache.Get(ctx, "favorite")
	logger.Info("overwritten", "previous", prev.Value, "current", cur)

	first, err := s.Cache.Get(ctx, "session_id")
	if err != nil {
		return err
	}
	again, _ := s.Cache.Get(ctx, "session_id")
	logger.Info("memoized", "session_id", first, "same", slices.Equal(first, again))

	s.Cache.Reset(ctx)
	fav, _ = s.Cache.Get(ctx, "favorite")
	logger.Info("after reset", "favorite", fav, "stats", fmt.Sprintf("%+v", s.Cache.Metrics()))
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
