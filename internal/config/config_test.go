package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Boundaries.Endpoint == "" {
		t.Error("expected boundary endpoint to be set")
	}
	if len(cfg.Boundaries.NameFields) == 0 {
		t.Error("expected name field candidates")
	}
	if cfg.Census.StateFIPS != "50" {
		t.Errorf("expected state FIPS 50, got %q", cfg.Census.StateFIPS)
	}
	if len(cfg.Census.Indicators) != 4 {
		t.Errorf("expected 4 indicators, got %d", len(cfg.Census.Indicators))
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TTLMinutes != 60 {
		t.Errorf("expected 60 minute TTL, got %d", cfg.Cache.TTLMinutes)
	}
	if !cfg.Links.Fallback {
		t.Error("expected link fallback enabled by default")
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
census:
  default_year: 2021
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Census.ProfileURL == "" {
		t.Error("expected default profile URL")
	}
	if len(cfg.Census.Indicators) == 0 {
		t.Error("expected default indicators")
	}
	if cfg.Join.Prefer != "code" {
		t.Errorf("expected default join key 'code', got %q", cfg.Join.Prefer)
	}
	// Years fill in up to the configured default year
	if !cfg.Census.ValidYear(2021) || cfg.Census.ValidYear(2022) {
		t.Errorf("unexpected year range: %v", cfg.Census.Years)
	}
}

func TestDatasetCodes(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	profile := cfg.Census.ProfileCodes()
	if len(profile) != 3 {
		t.Errorf("expected 3 profile codes, got %v", profile)
	}
	detailed := cfg.Census.DetailedCodes()
	if len(detailed) != 1 || detailed[0] != "B19013_001E" {
		t.Errorf("expected [B19013_001E], got %v", detailed)
	}

	ind := cfg.Census.IndicatorByCode("DP03_0009PE")
	if ind == nil || ind.Format != "percent" {
		t.Errorf("unexpected indicator lookup result: %+v", ind)
	}
	if cfg.Census.IndicatorByCode("BOGUS") != nil {
		t.Error("expected nil for unknown code")
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
	if len(cfg.Census.Years) == 0 {
		t.Error("expected years to be populated from file")
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
}
