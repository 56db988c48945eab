package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Keywords  []string        `yaml:"keywords"`
	Filter    FilterConfig    `yaml:"filter"`
	Sources   SourcesConfig   `yaml:"sources"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Recommend RecommendConfig `yaml:"recommend"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ScheduleConfig configures collection and scoring intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval" validate:"duration"`
	ScoreInterval   string `yaml:"score_interval" validate:"duration"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// ParseScoreInterval returns the score interval as time.Duration.
func (s ScheduleConfig) ParseScoreInterval() time.Duration {
	d, err := time.ParseDuration(s.ScoreInterval)
	if err != nil {
		return 12 * time.Hour
	}
	return d
}

// FilterConfig configures the non-product label filter.
type FilterConfig struct {
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// SourcesConfig holds configuration for all signal producers.
type SourcesConfig struct {
	GoogleTrends GoogleTrendsConfig `yaml:"google_trends"`
	Reddit       RedditConfig       `yaml:"reddit"`
	TikTok       TikTokConfig       `yaml:"tiktok"`
	YouTube      YouTubeConfig      `yaml:"youtube"`
	Amazon       AmazonConfig       `yaml:"amazon"`
	Shopify      ShopifyConfig      `yaml:"shopify"`
	AliExpress   AliExpressConfig   `yaml:"aliexpress"`
}

// GoogleTrendsConfig for the trending searches feed.
type GoogleTrendsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"request_interval" validate:"min=0"`
}

// RedditConfig for the Reddit producer.
type RedditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ClientID     string        `yaml:"client_id" validate:"required_if=Enabled true"`
	ClientSecret string        `yaml:"client_secret" validate:"required_if=Enabled true"`
	Subreddits   []string      `yaml:"subreddits" validate:"required_if=Enabled true"`
	Interval     time.Duration `yaml:"request_interval" validate:"min=0"`
}

// TikTokConfig for the TikTok Research API producer.
type TikTokConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ClientKey    string        `yaml:"client_key" validate:"required_if=Enabled true"`
	ClientSecret string        `yaml:"client_secret" validate:"required_if=Enabled true"`
	Interval     time.Duration `yaml:"request_interval" validate:"min=0"`
}

// YouTubeConfig for the YouTube producer.
type YouTubeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	APIKey   string        `yaml:"api_key" validate:"required_if=Enabled true"`
	Interval time.Duration `yaml:"request_interval" validate:"min=0"`
}

// AmazonConfig for the Movers & Shakers scraper.
type AmazonConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"request_interval" validate:"min=0"`
}

// ShopifyConfig for storefront bestseller listings.
type ShopifyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Stores   []string      `yaml:"stores" validate:"required_if=Enabled true,dive,url"`
	Interval time.Duration `yaml:"request_interval" validate:"min=0"`
}

// AliExpressConfig for the affiliate hot-product API.
type AliExpressConfig struct {
	Enabled   bool          `yaml:"enabled"`
	AppKey    string        `yaml:"app_key" validate:"required_if=Enabled true"`
	AppSecret string        `yaml:"app_secret" validate:"required_if=Enabled true"`
	Interval  time.Duration `yaml:"request_interval" validate:"min=0"`
}

// ScoringConfig configures composite scoring.
type ScoringConfig struct {
	LookbackDays int             `yaml:"lookback_days" validate:"min=1,max=365"`
	Workers      int             `yaml:"workers" validate:"min=1,max=64"`
	Sentiment    SentimentConfig `yaml:"sentiment"`
}

// SentimentConfig configures the hosted sentiment classifier.
type SentimentConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

// RecommendConfig configures the recommendation engine.
type RecommendConfig struct {
	TopN     int           `yaml:"top_n" validate:"min=1,max=100"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"min=0"`
	LLM      LLMConfig     `yaml:"llm"`
}

// LLMConfig configures the reasoning service.
type LLMConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider" validate:"oneof=openai anthropic"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key" validate:"required_if=Enabled true"`
	BaseURL  string        `yaml:"base_url" validate:"omitempty,url"` // custom endpoint (optional)
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./productradar.db"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Schedule: ScheduleConfig{
			CollectInterval: "6h",
			ScoreInterval:   "12h",
		},
		Keywords: []string{
			"gadget", "kitchen gadget", "home decor", "phone accessory",
			"fitness", "pet supplies", "beauty tool", "led light",
		},
		Sources: SourcesConfig{
			GoogleTrends: GoogleTrendsConfig{Enabled: true, Interval: time.Second},
			Reddit: RedditConfig{
				Subreddits: []string{
					"shutupandtakemymoney", "BuyItForLife", "gadgets",
					"INEEEEDIT", "amazonfinds", "TikTokMadeMeBuyIt",
				},
				Interval: time.Second,
			},
			TikTok:     TikTokConfig{Interval: time.Second},
			YouTube:    YouTubeConfig{Interval: time.Second},
			Amazon:     AmazonConfig{Enabled: true, Interval: 3 * time.Second},
			Shopify:    ShopifyConfig{Interval: 2 * time.Second},
			AliExpress: AliExpressConfig{Interval: time.Second},
		},
		Scoring: ScoringConfig{
			LookbackDays: 31,
			Workers:      4,
			Sentiment: SentimentConfig{
				Endpoint: "https://api-inference.huggingface.co/models/distilbert-base-uncased-finetuned-sst-2-english",
				Timeout:  20 * time.Second,
			},
		},
		Recommend: RecommendConfig{
			TopN:     5,
			CacheTTL: 4 * time.Hour,
			LLM: LLMConfig{
				Provider: "anthropic",
				Timeout:  60 * time.Second,
			},
		},
		Alerts: AlertsConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		ns := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s", ns, fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", ns, fe.Tag())
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRODUCTRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRODUCTRADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PRODUCTRADAR_KEYWORDS"); v != "" {
		cfg.Keywords = splitList(v)
	}
	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Sources.Reddit.ClientID = v
		cfg.Sources.Reddit.Enabled = true
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Sources.Reddit.ClientSecret = v
	}
	if v := os.Getenv("TIKTOK_CLIENT_KEY"); v != "" {
		cfg.Sources.TikTok.ClientKey = v
		cfg.Sources.TikTok.Enabled = true
	}
	if v := os.Getenv("TIKTOK_CLIENT_SECRET"); v != "" {
		cfg.Sources.TikTok.ClientSecret = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
		cfg.Sources.YouTube.Enabled = true
	}
	if v := os.Getenv("SHOPIFY_STORES"); v != "" {
		cfg.Sources.Shopify.Stores = splitList(v)
		cfg.Sources.Shopify.Enabled = true
	}
	if v := os.Getenv("ALIEXPRESS_APP_KEY"); v != "" {
		cfg.Sources.AliExpress.AppKey = v
		cfg.Sources.AliExpress.Enabled = true
	}
	if v := os.Getenv("ALIEXPRESS_APP_SECRET"); v != "" {
		cfg.Sources.AliExpress.AppSecret = v
	}
	if v := os.Getenv("HF_API_TOKEN"); v != "" {
		cfg.Scoring.Sentiment.Token = v
		cfg.Scoring.Sentiment.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Recommend.LLM.APIKey = v
		cfg.Recommend.LLM.Enabled = true
		cfg.Recommend.LLM.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Recommend.LLM.APIKey = v
		cfg.Recommend.LLM.Enabled = true
		cfg.Recommend.LLM.Provider = "anthropic"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
