package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/pkg/alert"
	"github.com/elonfeng/productradar/pkg/ingest"
	"github.com/elonfeng/productradar/pkg/recommend"
	"github.com/elonfeng/productradar/pkg/source"
	"github.com/elonfeng/productradar/pkg/trend"
)

// Options wires a Scheduler.
type Options struct {
	Sources         []source.Source
	Keywords        []string
	Ingestor        *ingest.Ingestor
	Scorer          *trend.Scorer
	Recommender     *recommend.Engine
	Alerts          *alert.Manager
	TopN            int
	CollectInterval time.Duration
	ScoreInterval   time.Duration
}

// Scheduler runs periodic collection, scoring and alerting.
type Scheduler struct {
	sources     []source.Source
	keywords    []string
	ingestor    *ingest.Ingestor
	scorer      *trend.Scorer
	recommender *recommend.Engine
	alerts      *alert.Manager
	topN        int
	collectInt  time.Duration
	scoreInt    time.Duration

	// ingestMu keeps batches from different producers from writing at once.
	ingestMu sync.Mutex
}

// New creates a new scheduler.
func New(opts Options) *Scheduler {
	if opts.CollectInterval == 0 {
		opts.CollectInterval = 6 * time.Hour
	}
	if opts.ScoreInterval == 0 {
		opts.ScoreInterval = 12 * time.Hour
	}
	if opts.TopN <= 0 {
		opts.TopN = recommend.DefaultTopN
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.NewManager(nil)
	}
	return &Scheduler{
		sources:     opts.Sources,
		keywords:    opts.Keywords,
		ingestor:    opts.Ingestor,
		scorer:      opts.Scorer,
		recommender: opts.Recommender,
		alerts:      opts.Alerts,
		topN:        opts.TopN,
		collectInt:  opts.CollectInterval,
		scoreInt:    opts.ScoreInterval,
	}
}

// Serve runs the scheduler loop until ctx is cancelled. It satisfies
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	scoreTicker := time.NewTicker(s.scoreInt)
	defer collectTicker.Stop()
	defer scoreTicker.Stop()

	// Run immediately on start.
	s.CollectAll(ctx)
	s.ScoreAndAlert(ctx)

	logging.Info().
		Dur("collect_every", s.collectInt).
		Dur("score_every", s.scoreInt).
		Msg("scheduler running")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.CollectAll(ctx)
		case <-scoreTicker.C:
			s.ScoreAndAlert(ctx)
		}
	}
}

// CollectAll runs every producer concurrently and ingests each batch. One
// result is returned per producer, in producer order; the error joins the
// failures.
func (s *Scheduler) CollectAll(ctx context.Context) ([]ingest.Result, error) {
	start := time.Now()
	results := make([]ingest.Result, len(s.sources))

	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			results[i] = s.collectOne(ctx, src)
			return nil
		})
	}
	g.Wait()

	var errs []error
	total := 0
	for _, r := range results {
		total += r.Signals
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Source, r.Err))
		}
	}
	logging.Info().
		Int("producers", len(results)).
		Int("failed", len(errs)).
		Int("signals", total).
		Dur("duration", time.Since(start)).
		Msg("collection complete")
	return results, errors.Join(errs...)
}

func (s *Scheduler) collectOne(ctx context.Context, src source.Source) ingest.Result {
	name := src.Name()
	signals, err := src.Collect(ctx, s.keywords)
	if err != nil {
		metrics.ProducerFailures.WithLabelValues(string(name)).Inc()
		logging.Error().Err(err).Str("source", string(name)).Int("partial", len(signals)).Msg("producer failed")
		if len(signals) == 0 {
			return ingest.Result{Source: name, Err: err}
		}
	}

	s.ingestMu.Lock()
	res := s.ingestor.Ingest(ctx, name, signals)
	s.ingestMu.Unlock()

	if err != nil {
		res.Err = errors.Join(err, res.Err)
	}
	return res
}

// ScoreAndAlert scores every product, rebuilds recommendations and
// announces new Strong picks.
func (s *Scheduler) ScoreAndAlert(ctx context.Context) {
	if _, err := s.scorer.ScoreAll(ctx); err != nil {
		logging.Error().Err(err).Msg("scoring pass failed")
		return
	}
	if s.recommender == nil || !s.alerts.HasNotifiers() {
		return
	}

	recs, err := s.recommender.Recommend(ctx, s.topN)
	if err != nil {
		logging.Error().Err(err).Msg("recommendation failed")
		return
	}
	sent, err := s.alerts.NotifyStrong(ctx, recs)
	if err != nil {
		logging.Warn().Err(err).Msg("some alerts failed")
	}
	if sent > 0 {
		logging.Info().Int("alerts", sent).Msg("alerted new strong recommendations")
	}
}
