package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recommend.TopN != 5 || cfg.Recommend.CacheTTL != 4*time.Hour {
		t.Errorf("recommend = %+v", cfg.Recommend)
	}
	if cfg.Scoring.LookbackDays != 31 {
		t.Errorf("lookback = %d", cfg.Scoring.LookbackDays)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/radar.db
keywords: [standing desk, neck fan]
schedule:
  collect_interval: 2h
sources:
  shopify:
    enabled: true
    stores: [https://shop.example.com]
    request_interval: 500ms
scoring:
  workers: 8
recommend:
  top_n: 10
  cache_ttl: 1h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/radar.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if len(cfg.Keywords) != 2 || cfg.Keywords[1] != "neck fan" {
		t.Errorf("keywords = %v", cfg.Keywords)
	}
	if cfg.Schedule.ParseCollectInterval() != 2*time.Hour {
		t.Errorf("collect interval = %v", cfg.Schedule.ParseCollectInterval())
	}
	if cfg.Schedule.ParseScoreInterval() != 12*time.Hour {
		t.Errorf("score interval = %v", cfg.Schedule.ParseScoreInterval())
	}
	if cfg.Sources.Shopify.Interval != 500*time.Millisecond {
		t.Errorf("shopify interval = %v", cfg.Sources.Shopify.Interval)
	}
	if cfg.Scoring.Workers != 8 || cfg.Recommend.TopN != 10 || cfg.Recommend.CacheTTL != time.Hour {
		t.Errorf("cfg = %+v %+v", cfg.Scoring, cfg.Recommend)
	}
	// Untouched sections keep their defaults.
	if !cfg.Sources.Amazon.Enabled {
		t.Error("amazon should stay enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"reddit without credentials", "sources:\n  reddit:\n    enabled: true\n", "Sources.Reddit.ClientID"},
		{"zero workers", "scoring:\n  workers: 0\n", "Scoring.Workers"},
		{"bad provider", "recommend:\n  llm:\n    provider: gemini\n", "Recommend.LLM.Provider"},
		{"bad interval", "schedule:\n  collect_interval: often\n", "Schedule.CollectInterval"},
		{"bad store url", "sources:\n  shopify:\n    enabled: true\n    stores: [not a url]\n", "Sources.Shopify.Stores"},
		{"bad port", "server:\n  port: 70000\n", "Server.Port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRODUCTRADAR_DB_PATH", "/data/env.db")
	t.Setenv("PRODUCTRADAR_KEYWORDS", "yoga mat, ,desk lamp")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ALIEXPRESS_APP_KEY", "key")
	t.Setenv("ALIEXPRESS_APP_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/data/env.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if len(cfg.Keywords) != 2 || cfg.Keywords[1] != "desk lamp" {
		t.Errorf("keywords = %v", cfg.Keywords)
	}
	llm := cfg.Recommend.LLM
	if !llm.Enabled || llm.Provider != "openai" || llm.APIKey != "sk-test" {
		t.Errorf("llm = %+v", llm)
	}
	if !cfg.Sources.AliExpress.Enabled || cfg.Sources.AliExpress.AppSecret != "secret" {
		t.Errorf("aliexpress = %+v", cfg.Sources.AliExpress)
	}
}
