package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Profiles) != 5 {
		t.Errorf("expected 5 profiles, got %d", len(cfg.Profiles))
	}
	if cfg.Polling.ContentInterval != 5*time.Second {
		t.Errorf("expected content interval 5s, got %s", cfg.Polling.ContentInterval)
	}
	if cfg.Polling.DatasetInterval != 3*time.Second || cfg.Polling.JobInterval != 30*time.Second {
		t.Errorf("unexpected polling intervals %+v", cfg.Polling)
	}
	if cfg.Estimation.YouTubeCharsPerMinute != 400 {
		t.Errorf("expected youtube rate 400, got %v", cfg.Estimation.YouTubeCharsPerMinute)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
backend:
  base_url: https://api.example.com/v1
estimation:
  youtube_chars_per_minute: 150
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Backend.BaseURL != "https://api.example.com/v1" {
		t.Errorf("unexpected base url %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Backend.TokenEnv != "TUNEDESK_TOKEN" {
		t.Errorf("expected default token env, got %q", cfg.Backend.TokenEnv)
	}
	if len(cfg.Profiles) != 5 {
		t.Errorf("expected built-in profiles, got %d", len(cfg.Profiles))
	}
	if e := cfg.Extractor(); e.YouTubeCharsPerMinute != 150 || e.BytesRatio != 0.5 {
		t.Errorf("unexpected extractor %+v", e)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad mode":        "scrape:\n  mode: selenium\n",
		"bad url":         "backend:\n  base_url: not-a-url\n",
		"profile order":   "profiles:\n  - name: x\n    min: 100\n    optimal: 50\n    max: 200\n",
		"duplicate":       "profiles:\n  - {name: x, min: 1, optimal: 2, max: 3}\n  - {name: x, min: 1, optimal: 2, max: 3}\n",
		"zero youtube":    "estimation:\n  youtube_chars_per_minute: 0\n",
		"bad verify mode": "provider:\n  verify: magic\n",
	}
	for name, doc := range cases {
		if _, err := parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "invalid config") {
			t.Errorf("%s: unexpected error %v", name, err)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Backend.PricingTTL != 10*time.Minute {
		t.Errorf("expected pricing ttl from file, got %s", cfg.Backend.PricingTTL)
	}
}

func TestResolveExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.DBPath() != filepath.Join("/custom/path", "tunedesk.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}
