package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	googleTrendsFeedURL = "https://trends.google.com/trending/rss?geo=US"

	// Approximate daily searches at which a trending query counts as a breakout.
	breakoutTraffic = 100000
	breakoutValue   = 5000
)

// GoogleTrends reads the daily trending-searches feed. Every trending query
// that contains a tracked keyword becomes a search signal.
type GoogleTrends struct {
	fetch   *fetcher
	parser  *gofeed.Parser
	feedURL string
}

// NewGoogleTrends creates a new Google Trends producer.
func NewGoogleTrends(interval time.Duration) *GoogleTrends {
	return &GoogleTrends{
		fetch:   newFetcher(interval),
		parser:  gofeed.NewParser(),
		feedURL: googleTrendsFeedURL,
	}
}

func (g *GoogleTrends) Name() SourceType { return SourceGoogleTrends }

func (g *GoogleTrends) Collect(ctx context.Context, keywords []string) ([]Signal, error) {
	resp, err := g.fetch.get(ctx, g.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch google trends: %w", err)
	}
	defer resp.Body.Close()

	feed, err := g.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse google trends: %w", err)
	}

	var signals []Signal
	for _, item := range feed.Items {
		query := strings.TrimSpace(item.Title)
		if query == "" {
			continue
		}
		parent := matchKeyword(query, keywords)
		if parent == "" && len(keywords) > 0 {
			continue
		}

		traffic := approxTraffic(trendsExt(item, "approx_traffic"))
		meta := Metadata{
			MetaTitle:        query,
			"parent_keyword": parent,
			"approx_traffic": traffic,
		}
		if pic := trendsExt(item, "picture"); pic != "" {
			meta[MetaImageURL] = pic
		}
		if news := trendsNewsURL(item); news != "" {
			meta[MetaURL] = news
		}

		// Velocity is counted in hundreds of daily searches.
		signals = append(signals, newSignal(SourceGoogleTrends, query, TypeSearchVelocity, float64(traffic)/100, meta))
		if traffic >= breakoutTraffic {
			signals = append(signals, newSignal(SourceGoogleTrends, query, TypeBreakout, breakoutValue, Metadata{"parent_keyword": parent}))
		} else {
			signals = append(signals, newSignal(SourceGoogleTrends, query, TypeRising, float64(traffic)/1000, Metadata{"parent_keyword": parent}))
		}
	}
	return signals, nil
}

// trendsExt reads a value from the ht: namespace of a trending item.
func trendsExt(item *gofeed.Item, name string) string {
	ext, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	vals := ext[name]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0].Value)
}

func trendsNewsURL(item *gofeed.Item) string {
	ext, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	for _, news := range ext["news_item"] {
		if urls := news.Children["news_item_url"]; len(urls) > 0 {
			return strings.TrimSpace(urls[0].Value)
		}
	}
	return ""
}

// approxTraffic parses values like "20,000+" or "2K+".
func approxTraffic(s string) int {
	s = strings.TrimSuffix(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), "+")
	mult := 1
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1000, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1000000, strings.TrimSuffix(s, "M")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * mult
}
