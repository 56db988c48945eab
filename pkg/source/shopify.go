package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
)

// Shopify reads the public best-selling catalogue of each configured store.
// Rank 1 scores 100; ranks past 100 are dropped.
type Shopify struct {
	fetch  *fetcher
	stores []string
}

// NewShopify creates a new Shopify producer.
func NewShopify(stores []string, interval time.Duration) *Shopify {
	return &Shopify{
		fetch:  newFetcher(interval),
		stores: stores,
	}
}

func (s *Shopify) Name() SourceType { return SourceShopify }

func (s *Shopify) Collect(ctx context.Context, _ []string) ([]Signal, error) {
	if len(s.stores) == 0 {
		return nil, fmt.Errorf("shopify: no store URLs configured")
	}

	var all []Signal
	for _, store := range s.stores {
		signals, err := s.fetchStore(ctx, strings.TrimRight(store, "/"))
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			logging.Warn().Err(err).Str("store", store).Msg("shopify store failed")
			continue
		}
		all = append(all, signals...)
	}
	return all, nil
}

func (s *Shopify) fetchStore(ctx context.Context, store string) ([]Signal, error) {
	var resp struct {
		Products []struct {
			Title       string `json:"title"`
			Handle      string `json:"handle"`
			ProductType string `json:"product_type"`
			Variants    []struct {
				Price string `json:"price"`
			} `json:"variants"`
			Images []struct {
				Src string `json:"src"`
			} `json:"images"`
		} `json:"products"`
	}
	if err := s.fetch.getJSON(ctx, store+"/products.json?sort_by=best-selling&limit=250", nil, &resp); err != nil {
		return nil, err
	}

	storeName := store
	if u, err := url.Parse(store); err == nil && u.Host != "" {
		storeName = u.Host
	}

	var signals []Signal
	for i, p := range resp.Products {
		value := float64(100 - i)
		if value <= 0 {
			break
		}
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		meta := Metadata{
			"store_name":   storeName,
			"product_type": p.ProductType,
			MetaRank:       i + 1,
		}
		if len(p.Variants) > 0 {
			if price, err := strconv.ParseFloat(p.Variants[0].Price, 64); err == nil && price > 0 {
				meta[MetaPrice] = price
			}
		}
		if len(p.Images) > 0 && p.Images[0].Src != "" {
			meta[MetaImageURL] = p.Images[0].Src
		}
		if p.Handle != "" {
			meta[MetaProductURL] = store + "/products/" + p.Handle
		}
		signals = append(signals, newSignal(SourceShopify, p.Title, TypeShopifyBest, value, meta))
	}
	return signals, nil
}
