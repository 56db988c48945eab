// Package recommend ranks scored products for sourcing and attaches a
// qualitative analysis to each pick.
package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/source"
)

const (
	// DefaultTopN is used when a caller asks for zero or fewer results.
	DefaultTopN = 5

	sparklineLen = 7
	// suitabilityPlatforms is the platform count that earns full marks in
	// the suitability score.
	suitabilityPlatforms = 7.0

	strictMinComposite  = 30
	strictMinShape      = 15
	relaxedMinComposite = 20
)

// Verdict grades a recommendation.
type Verdict string

const (
	VerdictStrong      Verdict = "Strong"
	VerdictModerate    Verdict = "Moderate"
	VerdictSpeculative Verdict = "Speculative"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictStrong, VerdictModerate, VerdictSpeculative:
		return true
	}
	return false
}

// Analysis is the qualitative part of a recommendation.
type Analysis struct {
	Name          string   `json:"name"`
	Verdict       Verdict  `json:"verdict"`
	Strengths     []string `json:"strengths"`
	Risks         []string `json:"risks"`
	Strategy      string   `json:"strategy"`
	TargetChannel string   `json:"target_channel"`
}

func (a Analysis) valid() bool {
	return a.Verdict.Valid() &&
		len(a.Strengths) >= 2 && len(a.Strengths) <= 4 &&
		len(a.Risks) >= 2 && len(a.Risks) <= 3 &&
		a.Strategy != "" && a.TargetChannel != ""
}

// Candidate is a product selected for analysis.
type Candidate struct {
	Product     store.Product
	Score       store.TrendScore
	Suitability float64
	Sources     []source.SourceType
	Sparkline   []float64
}

// Recommendation is one ranked pick. It is derived on demand and never
// persisted.
type Recommendation struct {
	Product     store.Product       `json:"product"`
	Score       store.TrendScore    `json:"score"`
	Suitability float64             `json:"suitability"`
	Sparkline   []float64           `json:"sparkline"`
	Sources     []source.SourceType `json:"sources"`
	Fallback    bool                `json:"fallback"`
	Analysis
}

// Analyzer produces one analysis per candidate, in input order.
type Analyzer interface {
	Analyze(ctx context.Context, candidates []Candidate) ([]Analysis, error)
}

// Store is the persistence the engine reads.
type Store interface {
	LatestPerProduct(ctx context.Context) ([]store.TrendScore, error)
	GetProduct(ctx context.Context, id int64) (*store.Product, error)
	RecentSnapshots(ctx context.Context, productID int64, limit int) ([]store.TrendScore, error)
	DistinctSources(ctx context.Context, productID int64) ([]source.SourceType, error)
}

// Suitability is the sourcing-oriented composite: trend shape 0.30, price
// fit 0.25, sentiment 0.20, social velocity 0.15 and platform reach 0.10,
// where reach is the distinct platform count out of seven.
func Suitability(t store.TrendScore) float64 {
	reach := float64(t.Platforms) / suitabilityPlatforms * 100
	return 0.30*t.TrendShape +
		0.25*t.PriceFit +
		0.20*t.Sentiment +
		0.15*t.SocialVelocity +
		0.10*reach
}

type scored struct {
	score       store.TrendScore
	suitability float64
}

// selectTop applies the fad filter with its two relaxations and returns at
// most topN entries.
func selectTop(all []scored, topN int) []scored {
	keep := func(pred func(store.TrendScore) bool) []scored {
		var out []scored
		for _, s := range all {
			if pred(s.score) {
				out = append(out, s)
			}
		}
		return out
	}

	picked := keep(func(t store.TrendScore) bool {
		return t.Composite >= strictMinComposite && t.TrendShape > strictMinShape
	})
	if len(picked) < topN {
		logging.Debug().Int("strict", len(picked)).Int("top_n", topN).Msg("relaxing recommendation filter")
		picked = keep(func(t store.TrendScore) bool {
			return t.Composite >= relaxedMinComposite
		})
	}

	if len(picked) == 0 {
		raw := slices.Clone(all)
		slices.SortStableFunc(raw, func(a, b scored) int {
			return cmp.Or(cmp.Compare(b.score.Composite, a.score.Composite), cmp.Compare(a.score.ProductID, b.score.ProductID))
		})
		return raw[:min(topN, len(raw))]
	}

	slices.SortStableFunc(picked, func(a, b scored) int {
		return cmp.Or(cmp.Compare(b.suitability, a.suitability), cmp.Compare(a.score.ProductID, b.score.ProductID))
	})
	return picked[:min(topN, len(picked))]
}

// Engine builds recommendation lists and caches them per list size.
type Engine struct {
	store    Store
	analyzer Analyzer
	cache    *Cache
}

// NewEngine creates an engine. analyzer may be nil, in which case every
// pick gets the template analysis. A nil cache gets a default one.
func NewEngine(st Store, analyzer Analyzer, cache *Cache) *Engine {
	if cache == nil {
		cache = NewCache(DefaultTTL)
	}
	return &Engine{store: st, analyzer: analyzer, cache: cache}
}

// Recommend returns up to topN recommendations. A list computed within the
// cache TTL is returned unchanged.
func (e *Engine) Recommend(ctx context.Context, topN int) ([]Recommendation, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return e.cache.Get(ctx, topN, func(ctx context.Context) ([]Recommendation, error) {
		return e.build(ctx, topN)
	})
}

func (e *Engine) build(ctx context.Context, topN int) ([]Recommendation, error) {
	start := time.Now()
	latest, err := e.store.LatestPerProduct(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest scores: %w", err)
	}
	if len(latest) == 0 {
		return []Recommendation{}, nil
	}

	all := make([]scored, len(latest))
	for i, t := range latest {
		all[i] = scored{score: t, suitability: Suitability(t)}
	}
	top := selectTop(all, topN)

	candidates := make([]Candidate, 0, len(top))
	for _, s := range top {
		c, err := e.candidate(ctx, s)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	analyses, fellBack := e.analyze(ctx, candidates)

	recs := make([]Recommendation, len(candidates))
	for i, c := range candidates {
		recs[i] = Recommendation{
			Product:     c.Product,
			Score:       c.Score,
			Suitability: math.Round(c.Suitability*10) / 10,
			Sparkline:   c.Sparkline,
			Sources:     c.Sources,
			Fallback:    fellBack[i],
			Analysis:    analyses[i],
		}
	}

	logging.Info().
		Int("recommendations", len(recs)).
		Int("top_n", topN).
		Dur("duration", time.Since(start)).
		Msg("recommendations built")
	return recs, nil
}

func (e *Engine) candidate(ctx context.Context, s scored) (Candidate, error) {
	id := s.score.ProductID
	p, err := e.store.GetProduct(ctx, id)
	if err != nil {
		return Candidate{}, fmt.Errorf("load product %d: %w", id, err)
	}

	snaps, err := e.store.RecentSnapshots(ctx, id, sparklineLen)
	if err != nil {
		return Candidate{}, fmt.Errorf("load sparkline for %d: %w", id, err)
	}
	spark := make([]float64, len(snaps))
	for i, snap := range snaps {
		spark[len(snaps)-1-i] = snap.Composite
	}

	sources, err := e.store.DistinctSources(ctx, id)
	if err != nil {
		return Candidate{}, fmt.Errorf("load sources for %d: %w", id, err)
	}

	return Candidate{
		Product:     *p,
		Score:       s.score,
		Suitability: s.suitability,
		Sources:     sources,
		Sparkline:   spark,
	}, nil
}

var errNoAnalyzer = errors.New("no reasoning service configured")

// analyze asks the analyzer for all candidates at once. A failed call or a
// response of the wrong length puts every candidate on the template; a
// single malformed entry is replaced on its own.
func (e *Engine) analyze(ctx context.Context, candidates []Candidate) ([]Analysis, []bool) {
	out := make([]Analysis, len(candidates))
	fellBack := make([]bool, len(candidates))
	if len(candidates) == 0 {
		return out, fellBack
	}

	var (
		analyses []Analysis
		err      = errNoAnalyzer
	)
	if e.analyzer != nil {
		analyses, err = e.analyzer.Analyze(ctx, candidates)
		if err == nil && len(analyses) != len(candidates) {
			err = fmt.Errorf("reasoning service returned %d analyses for %d products", len(analyses), len(candidates))
		}
	}
	if err != nil {
		if !errors.Is(err, errNoAnalyzer) {
			metrics.ExternalFallbacks.WithLabelValues("reasoning").Inc()
			logging.Warn().Err(err).Int("products", len(candidates)).Msg("reasoning service failed, using template analysis")
		}
		for i, c := range candidates {
			out[i] = fallbackAnalysis(c, err)
			fellBack[i] = true
		}
		return out, fellBack
	}

	for i, c := range candidates {
		a := analyses[i]
		if !a.valid() {
			metrics.ExternalFallbacks.WithLabelValues("reasoning").Inc()
			logging.Warn().Str("product", c.Product.CanonicalName).Msg("malformed analysis, using template")
			a = fallbackAnalysis(c, errors.New("malformed analysis"))
			fellBack[i] = true
		}
		if a.Name == "" {
			a.Name = c.Product.CanonicalName
		}
		out[i] = a
	}
	return out, fellBack
}
