// Package ingest resolves producer batches to products and writes them to
// the signal store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/identity"
	"github.com/elonfeng/productradar/pkg/source"
)

// Store is the persistence an ingestion run writes to.
type Store interface {
	AppendSignals(ctx context.Context, signals []source.Signal) error
	RecordPrice(ctx context.Context, productID int64, price float64, src source.SourceType, at time.Time) error
	UpdateProduct(ctx context.Context, id int64, u store.ProductUpdate) error
}

// Resolver maps raw labels to products.
type Resolver interface {
	Resolve(ctx context.Context, raw string, src source.SourceType, category string) (identity.Resolution, error)
}

// Result summarizes one batch from one producer.
type Result struct {
	RunID    string            `json:"run_id"`
	Source   source.SourceType `json:"source"`
	Signals  int               `json:"signals"`
	Products int               `json:"products"`
	Skipped  int               `json:"skipped"`
	Err      error             `json:"-"`
}

// OK reports whether the batch was stored.
func (r Result) OK() bool { return r.Err == nil }

// Ingestor turns producer batches into stored, resolved signals.
type Ingestor struct {
	store    Store
	resolver Resolver
	filter   *source.Filter
}

// New creates an ingestor. A nil filter keeps every labelled signal.
func New(st Store, r Resolver, f *source.Filter) *Ingestor {
	if f == nil {
		f = source.NewFilter(nil)
	}
	return &Ingestor{store: st, resolver: r, filter: f}
}

// Ingest resolves, enriches and stores one batch from src. Labels that are
// not products or normalize to nothing are skipped. Each distinct label is
// resolved once per batch.
func (in *Ingestor) Ingest(ctx context.Context, src source.SourceType, batch []source.Signal) Result {
	res := Result{RunID: uuid.NewString(), Source: src}
	log := logging.With().Str("run_id", res.RunID).Str("source", string(src)).Logger()

	kept := in.filter.Apply(batch)
	res.Skipped = len(batch) - len(kept)

	resolved := make(map[string]*store.Product)
	signals := make([]source.Signal, 0, len(kept))
	for _, s := range kept {
		p, seen := resolved[s.ProductName]
		if !seen {
			category, _ := s.Metadata.String(source.MetaCategory)
			r, err := in.resolver.Resolve(ctx, s.ProductName, s.Source, category)
			switch {
			case errors.Is(err, identity.ErrEmptyName):
				log.Debug().Str("label", s.ProductName).Msg("skipping label with empty normalized name")
			case err != nil:
				res.Err = fmt.Errorf("resolve %q: %w", s.ProductName, err)
				return res
			default:
				p = r.Product
			}
			resolved[s.ProductName] = p
		}
		if p == nil {
			res.Skipped++
			continue
		}
		s.ProductID = p.ID
		signals = append(signals, s)
	}

	if err := in.store.AppendSignals(ctx, signals); err != nil {
		res.Err = fmt.Errorf("append signals: %w", err)
		return res
	}
	res.Signals = len(signals)
	metrics.SignalsIngested.WithLabelValues(string(src)).Add(float64(len(signals)))

	products := make(map[int64]bool)
	for _, s := range signals {
		products[s.ProductID] = true
		if err := in.enrich(ctx, s); err != nil {
			// Enrichment is best effort; the signal itself is stored.
			log.Warn().Err(err).Int64("product_id", s.ProductID).Msg("product enrichment failed")
		}
	}
	res.Products = len(products)

	log.Info().
		Int("signals", res.Signals).
		Int("products", res.Products).
		Int("skipped", res.Skipped).
		Msg("batch ingested")
	return res
}

// enrich records a price observation and fills empty product details from
// the signal metadata.
func (in *Ingestor) enrich(ctx context.Context, s source.Signal) error {
	var errs []error
	if price, ok := s.Metadata.Float(source.MetaPrice); ok && price > 0 {
		at := s.CollectedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if err := in.store.RecordPrice(ctx, s.ProductID, price, s.Source, at); err != nil {
			errs = append(errs, err)
		}
	}

	u := store.ProductUpdate{}
	u.Category, _ = s.Metadata.String(source.MetaCategory)
	u.ImageURL, _ = s.Metadata.String(source.MetaImageURL)
	u.SourceURL, _ = s.Metadata.FirstString(source.MetaProductURL, source.MetaURL)
	u.Description, _ = s.Metadata.FirstString(source.MetaDescription, source.MetaBody)
	if u != (store.ProductUpdate{}) {
		if err := in.store.UpdateProduct(ctx, s.ProductID, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
