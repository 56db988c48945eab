package trend

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/source"
)

const (
	defaultLookback = 31 * 24 * time.Hour
	// shapeWindow is how many past snapshots feed the trend-shape component.
	shapeWindow = 10
)

// Weights are the composite weights of the nine components.
type Weights struct {
	Search    float64
	Social    float64
	Retail    float64
	Price     float64
	Sentiment float64
	Shape     float64
	Platform  float64
	Intent    float64
	Recency   float64
}

// DefaultWeights sum to 1.00.
var DefaultWeights = Weights{
	Search:    0.25,
	Social:    0.18,
	Retail:    0.12,
	Price:     0.10,
	Sentiment: 0.10,
	Shape:     0.08,
	Platform:  0.07,
	Intent:    0.05,
	Recency:   0.05,
}

// Sum adds all weights.
func (w Weights) Sum() float64 {
	return w.Search + w.Social + w.Retail + w.Price + w.Sentiment +
		w.Shape + w.Platform + w.Intent + w.Recency
}

// Combine fills in the composite of t from its components, clamped to
// [0, 100] and rounded to 2 decimals.
func (w Weights) Combine(t *store.TrendScore) {
	raw := w.Search*t.SearchAccel +
		w.Social*t.SocialVelocity +
		w.Retail*t.RetailMomentum +
		w.Price*t.PriceFit +
		w.Sentiment*t.Sentiment +
		w.Shape*t.TrendShape +
		w.Platform*t.PlatformCount +
		w.Intent*t.PurchaseIntent +
		w.Recency*t.Recency
	t.Composite = round2(clamp(raw, 0, 100))
}

// Store is the persistence the scorer needs.
type Store interface {
	ListProducts(ctx context.Context) ([]store.Product, error)
	QuerySignals(ctx context.Context, q store.SignalQuery) ([]source.Signal, error)
	RecentSnapshots(ctx context.Context, productID int64, limit int) ([]store.TrendScore, error)
	AppendSnapshot(ctx context.Context, s *store.TrendScore) error
}

// ScorerConfig tunes a Scorer. Zero values use defaults.
type ScorerConfig struct {
	Lookback time.Duration
	Workers  int
	Weights  Weights
}

// Scorer computes and persists composite trend scores.
type Scorer struct {
	store      Store
	classifier Classifier
	weights    Weights
	lookback   time.Duration
	workers    int
	now        func() time.Time
}

// NewScorer creates a scorer. classifier may be nil, in which case sentiment
// is always neutral.
func NewScorer(st Store, classifier Classifier, cfg ScorerConfig) *Scorer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Weights != (Weights{}) && !weightsValid(cfg.Weights) {
		logging.Warn().Float64("sum", cfg.Weights.Sum()).Msg("composite weights do not sum to 1, using defaults")
		cfg.Weights = Weights{}
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	return &Scorer{
		store:      st,
		classifier: classifier,
		weights:    cfg.Weights,
		lookback:   cfg.Lookback,
		workers:    cfg.Workers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Score computes a snapshot for p from its signals in the lookback window,
// appends it and returns it.
func (s *Scorer) Score(ctx context.Context, p store.Product) (*store.TrendScore, error) {
	now := s.now()
	signals, err := s.store.QuerySignals(ctx, store.SignalQuery{
		ProductID: p.ID,
		Since:     now.Add(-s.lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("query signals for product %d: %w", p.ID, err)
	}

	history, err := s.history(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	t := &store.TrendScore{
		ProductID:      p.ID,
		ScoredAt:       now,
		SearchAccel:    round2(SearchAcceleration(signals)),
		SocialVelocity: round2(SocialVelocity(signals)),
		RetailMomentum: round2(RetailMomentum(signals)),
		PriceFit:       round2(PriceFit(p.PriceLow, p.PriceHigh)),
		TrendShape:     round2(TrendShape(history)),
		PurchaseIntent: round2(PurchaseIntent(signals)),
		Recency:        round2(Recency(signals, now)),
		Sentiment:      Sentiment(ctx, s.classifier, signals),
		PlatformCount:  round2(PlatformCount(signals)),
		Platforms:      DistinctSources(signals),
	}
	s.weights.Combine(t)

	if err := s.store.AppendSnapshot(ctx, t); err != nil {
		return nil, fmt.Errorf("append snapshot for product %d: %w", p.ID, err)
	}

	metrics.ProductsScored.Inc()
	metrics.CompositeScore.Observe(t.Composite)
	return t, nil
}

// history returns past composites in chronological order.
func (s *Scorer) history(ctx context.Context, productID int64) ([]float64, error) {
	snaps, err := s.store.RecentSnapshots(ctx, productID, shapeWindow)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots for product %d: %w", productID, err)
	}
	out := make([]float64, len(snaps))
	for i, snap := range snaps {
		out[i] = snap.Composite
	}
	slices.Reverse(out)
	return out, nil
}

// Summary reports the outcome of a ScoreAll pass.
type Summary struct {
	Scored   int
	Failed   int
	Duration time.Duration
}

// ScoreAll scores every product with a bounded number of workers. A failing
// product is logged and counted; it never stops the others. The returned
// error is non-nil only when the product list itself cannot be read or ctx
// is cancelled.
func (s *Scorer) ScoreAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list products: %w", err)
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, p := range products {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := s.Score(gctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				metrics.ScoringFailures.Inc()
				logging.Error().Err(err).
					Int64("product_id", p.ID).
					Str("product", p.CanonicalName).
					Msg("scoring failed")
				return nil
			}
			sum.Scored++
			return nil
		})
	}

	err = g.Wait()
	sum.Duration = time.Since(start)
	logging.Info().
		Int("scored", sum.Scored).
		Int("failed", sum.Failed).
		Dur("duration", sum.Duration).
		Msg("scoring pass complete")
	return sum, err
}

// weightsValid reports whether w sums to 1 within rounding error.
func weightsValid(w Weights) bool {
	return math.Abs(w.Sum()-1) < 1e-9
}
