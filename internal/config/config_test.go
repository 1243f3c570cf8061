package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STRIDELINE_UPSTREAM_CLIENT_ID", "client")
	t.Setenv("STRIDELINE_UPSTREAM_CLIENT_SECRET", "secret")
	t.Setenv("STRIDELINE_UPSTREAM_REFRESH_TOKEN", "token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Quota.DailyLimit != 900 {
		t.Errorf("Quota.DailyLimit = %d, want 900", cfg.Quota.DailyLimit)
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Errorf("Scheduler.Interval = %v, want 6h", cfg.Scheduler.Interval)
	}
	if cfg.Music.SpotifyEnabled() {
		t.Error("SpotifyEnabled() = true with no credentials")
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true with no URL")
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without upstream credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIDELINE_QUOTA_DAILY_LIMIT", "500")
	t.Setenv("STRIDELINE_LOGGING_LEVEL", "debug")
	t.Setenv("STRIDELINE_CACHE_PATH", "/tmp/alt.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quota.DailyLimit != 500 {
		t.Errorf("Quota.DailyLimit = %d, want 500", cfg.Quota.DailyLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Cache.Path != "/tmp/alt.json" {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, "/tmp/alt.json")
	}
}

func TestLoadConfigFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "strideline.yaml")
	data := []byte("server:\n  addr: \":9090\"\nenrich:\n  batch_size: 5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Enrich.BatchSize != 5 {
		t.Errorf("Enrich.BatchSize = %d, want 5", cfg.Enrich.BatchSize)
	}
	// Values absent from the file keep their defaults.
	if cfg.Quota.WindowLimit != 90 {
		t.Errorf("Quota.WindowLimit = %d, want 90", cfg.Quota.WindowLimit)
	}
}

func TestValidateRejectsReserveAboveDaily(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIDELINE_QUOTA_DAILY_LIMIT", "10")
	t.Setenv("STRIDELINE_QUOTA_LISTING_RESERVE", "10")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted listing_reserve equal to daily_limit")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"STRIDELINE_UPSTREAM_CLIENT_ID", "upstream.client_id"},
		{"STRIDELINE_QUOTA_DAILY_LIMIT", "quota.daily_limit"},
		{"STRIDELINE_CACHE_PATH", "cache.path"},
		{"STRIDELINE_SERVER_ADDR", "server.addr"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.key); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
