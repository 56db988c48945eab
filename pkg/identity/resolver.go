package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/source"
)

// MatchThreshold is the minimum similarity for a fuzzy match.
const MatchThreshold = 80

// ErrEmptyName is returned for labels that normalize to nothing.
var ErrEmptyName = errors.New("label normalizes to empty name")

// Store is the product and alias storage the resolver needs.
type Store interface {
	GetByCanonicalName(ctx context.Context, name string) (*store.Product, error)
	GetByAlias(ctx context.Context, name string) (*store.Product, error)
	ListProducts(ctx context.Context) ([]store.Product, error)
	ListAliases(ctx context.Context) ([]store.Alias, error)
	CreateProduct(ctx context.Context, p *store.Product) error
	AddAlias(ctx context.Context, productID int64, name string, src source.SourceType) error
}

// Method records which step matched a label.
type Method string

const (
	MethodExact   Method = "exact"
	MethodAlias   Method = "alias"
	MethodFuzzy   Method = "fuzzy"
	MethodCreated Method = "created"
)

// Resolution is the outcome of resolving one label.
type Resolution struct {
	Product *store.Product
	Name    string
	Method  Method
	Score   int
}

// Resolver maps labels to products. Resolutions are serialized so two
// concurrent callers can never both create the same new product.
type Resolver struct {
	store     Store
	threshold int
	mu        sync.Mutex
}

// NewResolver creates a resolver over st.
func NewResolver(st Store) *Resolver {
	return &Resolver{store: st, threshold: MatchThreshold}
}

// Resolve returns the product for raw, creating it when nothing matches.
// Matching short-circuits in order: canonical name, alias, fuzzy.
func (r *Resolver) Resolve(ctx context.Context, raw string, src source.SourceType, category string) (Resolution, error) {
	name := Normalize(raw)
	if name == "" {
		return Resolution{}, fmt.Errorf("resolve %q: %w", raw, ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, err := r.store.GetByCanonicalName(ctx, name); err == nil {
		return Resolution{Product: p, Name: name, Method: MethodExact, Score: 100}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Resolution{}, err
	}

	if p, err := r.store.GetByAlias(ctx, name); err == nil {
		return Resolution{Product: p, Name: name, Method: MethodAlias, Score: 100}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Resolution{}, err
	}

	best, score, err := r.bestMatch(ctx, name)
	if err != nil {
		return Resolution{}, err
	}
	if best != nil && score >= r.threshold {
		if err := r.store.AddAlias(ctx, best.ID, name, src); err != nil {
			return Resolution{}, err
		}
		metrics.AliasesCreated.Inc()
		logging.Debug().
			Str("name", name).
			Str("matched", best.CanonicalName).
			Int("score", score).
			Msg("fuzzy match")
		return Resolution{Product: best, Name: name, Method: MethodFuzzy, Score: score}, nil
	}

	p, err := r.create(ctx, name, src, category)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Product: p, Name: name, Method: MethodCreated, Score: score}, nil
}

// bestMatch scans products in ascending id, each canonical name before its
// aliases. Only a strictly higher ratio replaces the current best, so ties
// go to the lowest product id.
func (r *Resolver) bestMatch(ctx context.Context, name string) (*store.Product, int, error) {
	products, err := r.store.ListProducts(ctx)
	if err != nil {
		return nil, 0, err
	}
	aliases, err := r.store.ListAliases(ctx)
	if err != nil {
		return nil, 0, err
	}
	byProduct := make(map[int64][]string, len(products))
	for _, a := range aliases {
		byProduct[a.ProductID] = append(byProduct[a.ProductID], a.Name)
	}

	var best *store.Product
	bestScore := 0
	for i := range products {
		p := &products[i]
		if s := TokenSortRatio(name, p.CanonicalName); s > bestScore {
			best, bestScore = p, s
		}
		for _, alias := range byProduct[p.ID] {
			if s := TokenSortRatio(name, alias); s > bestScore {
				best, bestScore = p, s
			}
		}
	}
	return best, bestScore, nil
}

func (r *Resolver) create(ctx context.Context, name string, src source.SourceType, category string) (*store.Product, error) {
	p := &store.Product{
		CanonicalName: name,
		Category:      category,
		FirstSeen:     time.Now().UTC(),
	}
	err := r.store.CreateProduct(ctx, p)
	if errors.Is(err, store.ErrConflict) {
		// Another writer created it first; use theirs.
		existing, getErr := r.store.GetByCanonicalName(ctx, name)
		if getErr != nil {
			return nil, fmt.Errorf("resolve conflict on %q: %w", name, getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.store.AddAlias(ctx, p.ID, name, src); err != nil {
		return nil, err
	}

	metrics.ProductsCreated.Inc()
	logging.Info().
		Int64("product_id", p.ID).
		Str("name", name).
		Str("source", string(src)).
		Msg("new product")
	return p, nil
}
