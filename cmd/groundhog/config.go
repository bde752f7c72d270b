package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the command settings. Environment variables provide the
// defaults and flags override them.
type Config struct {
	RedisAddr      string        `env:"GROUNDHOG_REDIS_ADDR"`
	RedisPrefix    string        `env:"GROUNDHOG_REDIS_PREFIX" envDefault:"groundhog:"`
	NATSURL        string        `env:"GROUNDHOG_NATS_URL"`
	DBPath         string        `env:"GROUNDHOG_DB_PATH"`
	Topic          string        `env:"GROUNDHOG_TOPIC" envDefault:"groundhog.reload"`
	HTTPAddr       string        `env:"GROUNDHOG_HTTP_ADDR" envDefault:":2112"`
	TraceStdout    bool          `env:"GROUNDHOG_TRACE_STDOUT"`
	ComputeTimeout time.Duration `env:"GROUNDHOG_COMPUTE_TIMEOUT" envDefault:"5s"`
	LogLevel       string        `env:"GROUNDHOG_LOG_LEVEL" envDefault:"info"`
	Serve          bool          `env:"GROUNDHOG_SERVE"`

	BreakerThreshold int           `env:"GROUNDHOG_BREAKER_THRESHOLD" envDefault:"3"`
	BreakerCooldown  time.Duration `env:"GROUNDHOG_BREAKER_COOLDOWN" envDefault:"5s"`
}

// parseConfig loads env defaults into a Config and then applies args.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for persistence and reload events")
	fs.StringVar(&cfg.RedisPrefix, "prefix", cfg.RedisPrefix, "Key prefix for persisted values")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for reload events")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite file persisting computed values across runs (standalone only)")
	fs.StringVar(&cfg.Topic, "topic", cfg.Topic, "Reload topic")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address when serving")
	fs.BoolVar(&cfg.TraceStdout, "trace", cfg.TraceStdout, "Print OpenTelemetry spans to stdout")
	fs.DurationVar(&cfg.ComputeTimeout, "compute-timeout", cfg.ComputeTimeout, "Upper bound for a single compute")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Serve, "serve", cfg.Serve, "Keep running and serve the HTTP admin endpoints")
	fs.IntVar(&cfg.BreakerThreshold, "breaker-threshold", cfg.BreakerThreshold, "Failed reload publishes before the bus breaker opens")
	fs.DurationVar(&cfg.BreakerCooldown, "breaker-cooldown", cfg.BreakerCooldown, "How long an open bus breaker waits before probing")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.RedisAddr != "" && cfg.NATSURL != "" {
		return cfg, fmt.Errorf("choose either -redis or -nats, not both")
	}
	if cfg.DBPath != "" && cfg.RedisAddr != "" {
		return cfg, fmt.Errorf("-db and -redis both persist values; pick one")
	}
	return cfg, nil
}
