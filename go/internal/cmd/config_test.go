package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BUS_DRIVER", "")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Bus.Driver != "local" || cfg.Presence.Driver != "memory" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Speaking.Interval != 1500*time.Millisecond || cfg.Speaking.Probability != 0.15 {
		t.Fatalf("speaking = %+v", cfg.Speaking)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchparty.yaml")
	yaml := `
server:
  port: "9000"
bus:
  driver: jetstream
  nats_url: nats://nats:4222
presence:
  driver: redis
  ttl: 1h
speaking:
  interval: 2s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "")
	t.Setenv("BUS_DRIVER", "")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Bus.Driver != "jetstream" || cfg.Bus.NATSURL != "nats://nats:4222" {
		t.Fatalf("server/bus = %+v %+v", cfg.Server, cfg.Bus)
	}
	if cfg.Presence.Driver != "redis" || cfg.Presence.RedisAddr != "redis:6380" || cfg.Presence.TTL != time.Hour {
		t.Fatalf("presence = %+v", cfg.Presence)
	}
	if cfg.Speaking.Interval != 2*time.Second || cfg.Bus.StreamName != "PLAYBACK_STATE" {
		t.Fatalf("defaults not kept: %+v %+v", cfg.Speaking, cfg.Bus)
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("BUS_DRIVER", "carrier-pigeon")
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("loadConfig() accepted unknown bus driver")
	}
}
