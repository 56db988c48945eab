package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/elonfeng/productradar/internal/config"
	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/scheduler"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/alert"
	"github.com/elonfeng/productradar/pkg/identity"
	"github.com/elonfeng/productradar/pkg/ingest"
	"github.com/elonfeng/productradar/pkg/recommend"
	"github.com/elonfeng/productradar/pkg/server"
	"github.com/elonfeng/productradar/pkg/source"
	"github.com/elonfeng/productradar/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

// pipeline holds every component wired from one config.
type pipeline struct {
	db       *store.SQLiteStore
	resolver *identity.Resolver
	scorer   *trend.Scorer
	engine   *recommend.Engine
	sched    *scheduler.Scheduler
	closers  []io.Closer
}

func newPipeline(cfg *config.Config, sources []source.Source) (*pipeline, error) {
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	p := &pipeline{db: db, resolver: identity.NewResolver(db)}

	var classifier trend.Classifier
	if c := buildClassifier(cfg); c != nil {
		classifier = c
		p.closers = append(p.closers, c)
	}
	var analyzer recommend.Analyzer
	if a := buildAnalyzer(cfg); a != nil {
		analyzer = a
		p.closers = append(p.closers, a)
	}

	p.scorer = trend.NewScorer(db, classifier, trend.ScorerConfig{
		Lookback: time.Duration(cfg.Scoring.LookbackDays) * 24 * time.Hour,
		Workers:  cfg.Scoring.Workers,
	})
	p.engine = recommend.NewEngine(db, analyzer, recommend.NewCache(cfg.Recommend.CacheTTL))
	p.sched = scheduler.New(scheduler.Options{
		Sources:         sources,
		Keywords:        cfg.Keywords,
		Ingestor:        ingest.New(db, p.resolver, source.NewFilter(cfg.Filter.ExcludeKeywords)),
		Scorer:          p.scorer,
		Recommender:     p.engine,
		Alerts:          buildAlertManager(cfg),
		TopN:            cfg.Recommend.TopN,
		CollectInterval: cfg.Schedule.ParseCollectInterval(),
		ScoreInterval:   cfg.Schedule.ParseScoreInterval(),
	})
	return p, nil
}

func (p *pipeline) Close() error {
	errs := make([]error, 0, len(p.closers)+1)
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, p.db.Close())
	return errors.Join(errs...)
}

func buildClassifier(cfg *config.Config) *trend.HTTPClassifier {
	sc := cfg.Scoring.Sentiment
	if !sc.Enabled || sc.Endpoint == "" {
		return nil
	}
	logging.Info().Str("endpoint", sc.Endpoint).Msg("sentiment classifier enabled")
	return trend.NewHTTPClassifier(sc.Endpoint, sc.Token, sc.Timeout)
}

func buildAnalyzer(cfg *config.Config) *recommend.LLMAnalyzer {
	lc := cfg.Recommend.LLM
	if !lc.Enabled || lc.APIKey == "" {
		return nil
	}
	a := recommend.NewLLMAnalyzer(lc.Provider, lc.Model, lc.APIKey, lc.BaseURL, lc.Timeout)
	logging.Info().Str("provider", lc.Provider).Str("model", lc.Model).Msg("reasoning service enabled")
	return a
}

func buildSources(cfg *config.Config) []source.Source {
	var sources []source.Source
	sc := cfg.Sources

	if sc.GoogleTrends.Enabled {
		sources = append(sources, source.NewGoogleTrends(sc.GoogleTrends.Interval))
	}
	if sc.Reddit.Enabled {
		sources = append(sources, source.NewReddit(sc.Reddit.ClientID, sc.Reddit.ClientSecret, sc.Reddit.Subreddits, sc.Reddit.Interval))
	}
	if sc.TikTok.Enabled {
		sources = append(sources, source.NewTikTok(sc.TikTok.ClientKey, sc.TikTok.ClientSecret, sc.TikTok.Interval))
	}
	if sc.YouTube.Enabled {
		sources = append(sources, source.NewYouTube(sc.YouTube.APIKey, sc.YouTube.Interval))
	}
	if sc.Amazon.Enabled {
		sources = append(sources, source.NewAmazon(sc.Amazon.Interval))
	}
	if sc.Shopify.Enabled {
		sources = append(sources, source.NewShopify(sc.Shopify.Stores, sc.Shopify.Interval))
	}
	if sc.AliExpress.Enabled {
		sources = append(sources, source.NewAliExpress(sc.AliExpress.AppKey, sc.AliExpress.AppSecret, sc.AliExpress.Interval))
	}

	return sources
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// selectSources keeps the sources named in wanted, matching either the full
// source name or its short form.
func selectSources(all []source.Source, wanted []string) ([]source.Source, error) {
	if len(wanted) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[strings.ToLower(strings.TrimSpace(w))] = true
	}
	var out []source.Source
	for _, s := range all {
		if want[string(s.Name())] || want[shortName(s.Name())] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled sources match: %s", strings.Join(wanted, ", "))
	}
	return out, nil
}

func runCollect(ctx context.Context, wanted []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sources, err := selectSources(buildSources(cfg), wanted)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, sources)
	if err != nil {
		return err
	}
	defer p.Close()

	results, _ := p.sched.CollectAll(ctx)

	total, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%-14s error: %v\n", r.Source, r.Err)
		}
		if r.Signals > 0 || r.Err == nil {
			fmt.Fprintf(os.Stderr, "%-14s %d signals, %d products, %d skipped\n",
				r.Source, r.Signals, r.Products, r.Skipped)
		}
		total += r.Signals
	}

	fmt.Fprintf(os.Stderr, "\ntotal: %d signals from %d sources (%d failed)\n", total, len(results), failed)
	return nil
}

func runScore(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	sum, err := p.scorer.ScoreAll(ctx)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	fmt.Fprintf(os.Stderr, "scored %d products (%d failed) in %s\n",
		sum.Scored, sum.Failed, sum.Duration.Round(time.Millisecond))
	return nil
}

func runRecommend(ctx context.Context, top int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if top <= 0 {
		top = cfg.Recommend.TopN
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	recs, err := p.engine.Recommend(ctx, top)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Println("no scored products yet (try: productradar collect && productradar score)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERDICT\tSCORE\tSUIT\tPLATFORMS\tPRODUCT\tCHANNEL")
	for _, r := range recs {
		verdict := string(r.Verdict)
		if r.Fallback {
			verdict += "*"
		}
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%d\t%s\t%s\n",
			verdict, r.Score.Composite, r.Suitability, r.Score.Platforms,
			r.Product.CanonicalName, r.TargetChannel)
	}
	return w.Flush()
}

func runResolve(ctx context.Context, label, src, category string) error {
	st := source.SourceType(strings.ToLower(src))
	if !slices.Contains(source.AllSourceTypes(), st) {
		return fmt.Errorf("unknown source %q", src)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.resolver.Resolve(ctx, label, st, category)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", label, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "normalized\t%s\n", res.Name)
	fmt.Fprintf(w, "method\t%s\n", res.Method)
	if res.Method == identity.MethodFuzzy {
		fmt.Fprintf(w, "similarity\t%d\n", res.Score)
	}
	fmt.Fprintf(w, "product\t#%d %s\n", res.Product.ID, res.Product.CanonicalName)
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	p, err := newPipeline(cfg, buildSources(cfg))
	if err != nil {
		return err
	}
	defer p.Close()

	srv := server.New(p.db, p.sched, p.engine, cfg.Recommend.TopN, port)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemon(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	sources := buildSources(cfg)
	if len(sources) == 0 {
		logging.Warn().Msg("no sources enabled, scheduler will only score")
	}

	p, err := newPipeline(cfg, sources)
	if err != nil {
		return err
	}
	defer p.Close()

	sup := suture.New("productradar", suture.Spec{
		EventHook: logSupervisorEvent,
		Timeout:   15 * time.Second,
	})
	sup.Add(p.sched)
	sup.Add(server.New(p.db, p.sched, p.engine, cfg.Recommend.TopN, port))

	logging.Info().Int("sources", len(sources)).Int("port", port).Msg("productradar daemon starting")
	err = sup.Serve(ctx)
	logging.Info().Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logSupervisorEvent(e suture.Event) {
	ev := logging.Warn()
	if e.Type() == suture.EventTypeServicePanic {
		ev = logging.Error()
	}
	ev.Fields(e.Map()).Msg(e.String())
}

func shortName(st source.SourceType) string {
	switch st {
	case source.SourceGoogleTrends:
		return "gt"
	case source.SourceYouTube:
		return "yt"
	case source.SourceAliExpress:
		return "ali"
	}
	return string(st)
}
