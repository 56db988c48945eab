package main

import (
	"testing"

	"github.com/elonfeng/productradar/internal/config"
	"github.com/elonfeng/productradar/pkg/source"
)

func TestSelectSources(t *testing.T) {
	cfg := config.Default()
	cfg.Sources.YouTube.Enabled = true
	cfg.Sources.YouTube.APIKey = "k"
	all := buildSources(cfg)
	if len(all) != 3 {
		t.Fatalf("default sources = %d, want 3", len(all))
	}

	got, err := selectSources(all, []string{" GT ", "yt"})
	if err != nil {
		t.Fatalf("selectSources: %v", err)
	}
	if len(got) != 2 || got[0].Name() != source.SourceGoogleTrends || got[1].Name() != source.SourceYouTube {
		t.Errorf("selected = %v", got)
	}

	if got, _ := selectSources(all, nil); len(got) != 3 {
		t.Errorf("no filter = %d sources", len(got))
	}
	if _, err := selectSources(all, []string{"tiktok"}); err == nil {
		t.Error("expected error for disabled source")
	}
}

func TestOptionalServices(t *testing.T) {
	cfg := config.Default()
	if buildClassifier(cfg) != nil || buildAnalyzer(cfg) != nil {
		t.Fatal("disabled services should not be built")
	}

	cfg.Scoring.Sentiment.Enabled = true
	cfg.Recommend.LLM.Enabled = true
	cfg.Recommend.LLM.APIKey = "sk-test"
	if buildClassifier(cfg) == nil || buildAnalyzer(cfg) == nil {
		t.Error("enabled services should be built")
	}
	if m := buildAlertManager(cfg); m.HasNotifiers() {
		t.Error("no alert destinations configured")
	}
}
