package main

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigEnvDefaults(t *testing.T) {
	t.Setenv("GROUNDHOG_REDIS_ADDR", "localhost:6379")
	t.Setenv("GROUNDHOG_COMPUTE_TIMEOUT", "2s")
	cfg, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("expected redis addr from env, got %q", cfg.RedisAddr)
	}
	if cfg.ComputeTimeout != 2*time.Second {
		t.Fatalf("expected 2s, got %v", cfg.ComputeTimeout)
	}
	if cfg.Topic != "groundhog.reload" || cfg.HTTPAddr != ":2112" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("GROUNDHOG_TOPIC", "from-env")
	cfg, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-topic", "from-flag", "-serve"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Topic != "from-flag" || !cfg.Serve {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestParseConfigRejectsTwoBuses(t *testing.T) {
	_, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-redis", "a:1", "-nats", "nats://b:2"})
	if err == nil {
		t.Fatal("expected error when both buses are set")
	}
}

func TestParseConfigBreaker(t *testing.T) {
	t.Setenv("GROUNDHOG_BREAKER_THRESHOLD", "7")
	cfg, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-breaker-cooldown", "30s"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.BreakerThreshold != 7 || cfg.BreakerCooldown != 30*time.Second {
		t.Fatalf("unexpected breaker config: %d %v", cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
}
