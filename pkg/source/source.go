package source

import (
	"context"
	"time"
)

// SourceType identifies which platform a signal came from.
type SourceType string

const (
	SourceGoogleTrends SourceType = "google_trends"
	SourceReddit       SourceType = "reddit"
	SourceTikTok       SourceType = "tiktok"
	SourceYouTube      SourceType = "youtube"
	SourceAmazon       SourceType = "amazon"
	SourceWalmart      SourceType = "walmart"
	SourceTarget       SourceType = "target"
	SourceShopify      SourceType = "shopify"
	SourceAliExpress   SourceType = "aliexpress"
)

// Signal types emitted by producers.
const (
	TypeSearchVelocity   = "search_velocity"
	TypeBreakout         = "breakout"
	TypeRising           = "rising"
	TypeUpvoteVelocity   = "upvote_velocity"
	TypeTikTokPopularity = "tiktok_popularity"
	TypeVideoViews       = "video_views"
	TypeBSRMomentum      = "bsr_momentum"
	TypeWalmartBest      = "walmart_bestseller"
	TypeTargetTrending   = "target_trending"
	TypeShopifyBest      = "shopify_bestseller"
	TypeAliExpressHot    = "aliexpress_hot_product"
	TypeMention          = "mention"
)

// Signal is one observation about a possible product. Signals are immutable
// once written; ProductID is zero until the label has been resolved.
type Signal struct {
	ID          int64      `json:"id" db:"id"`
	ProductID   int64      `json:"product_id,omitempty" db:"product_id"`
	ProductName string     `json:"product_name" db:"product_name"`
	Source      SourceType `json:"source" db:"source"`
	Type        string     `json:"signal_type" db:"signal_type"`
	Value       float64    `json:"value" db:"value"`
	Metadata    Metadata   `json:"metadata,omitempty" db:"-"`
	CollectedAt time.Time  `json:"collected_at" db:"collected_at"`
	MetaJSON    string     `json:"-" db:"metadata"`
}

// Source is the capability every producer implements.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context, keywords []string) ([]Signal, error)
}

// AllSourceTypes returns every known source type.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceGoogleTrends,
		SourceReddit,
		SourceTikTok,
		SourceYouTube,
		SourceAmazon,
		SourceWalmart,
		SourceTarget,
		SourceShopify,
		SourceAliExpress,
	}
}

func newSignal(src SourceType, name, typ string, value float64, meta Metadata) Signal {
	return Signal{
		ProductName: name,
		Source:      src,
		Type:        typ,
		Value:       value,
		Metadata:    meta,
		CollectedAt: time.Now().UTC(),
	}
}

func mention(src SourceType, name string, meta Metadata) Signal {
	return newSignal(src, name, TypeMention, 1, meta)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
