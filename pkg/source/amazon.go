package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/elonfeng/productradar/internal/logging"
)

const amazonBaseURL = "https://www.amazon.com"

// amazonCategories maps product categories to Movers & Shakers slugs.
var amazonCategories = map[string]string{
	"electronics":  "electronics",
	"home-kitchen": "home-garden",
	"beauty":       "beauty",
	"sports":       "sports-outdoors",
	"pets":         "pet-supplies",
	"toys":         "toys-and-games",
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// Amazon scrapes the Movers & Shakers lists for best-seller-rank momentum.
// Keywords are ignored; every listed product is reported.
type Amazon struct {
	fetch      *fetcher
	baseURL    string
	categories map[string]string
}

// NewAmazon creates a new Amazon producer.
func NewAmazon(interval time.Duration) *Amazon {
	return &Amazon{
		fetch:      newFetcher(interval),
		baseURL:    amazonBaseURL,
		categories: amazonCategories,
	}
}

func (a *Amazon) Name() SourceType { return SourceAmazon }

func (a *Amazon) Collect(ctx context.Context, _ []string) ([]Signal, error) {
	var all []Signal
	failed := 0
	for category, slug := range a.categories {
		products, err := a.fetchCategory(ctx, slug)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			failed++
			logging.Warn().Err(err).Str("category", category).Msg("amazon movers page failed")
			continue
		}
		for rank, p := range products {
			meta := Metadata{
				MetaCategory: category,
				MetaRank:     rank + 1,
			}
			if p.price > 0 {
				meta[MetaPrice] = p.price
			}
			if p.imageURL != "" {
				meta[MetaImageURL] = p.imageURL
			}
			if p.productURL != "" {
				meta[MetaProductURL] = p.productURL
			}
			if p.rating != "" {
				meta["rating"] = p.rating
			}
			if p.percentChange > 0 {
				all = append(all, newSignal(SourceAmazon, p.name, TypeBSRMomentum, p.percentChange, meta))
			}
			all = append(all, mention(SourceAmazon, p.name, Metadata{MetaCategory: category}))
		}
	}
	if failed == len(a.categories) && failed > 0 {
		return nil, fmt.Errorf("amazon: all %d category pages failed", failed)
	}
	return all, nil
}

type amazonProduct struct {
	name          string
	percentChange float64
	price         float64
	rating        string
	imageURL      string
	productURL    string
}

func (a *Amazon) fetchCategory(ctx context.Context, slug string) ([]amazonProduct, error) {
	header := http.Header{
		"Accept":          {"text/html,application/xhtml+xml"},
		"Accept-Language": {"en-US,en;q=0.9"},
	}
	resp, err := a.fetch.get(ctx, fmt.Sprintf("%s/gp/movers-and-shakers/%s/", a.baseURL, slug), header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseMovers(resp.Body, a.baseURL)
}

// parseMovers extracts product cards from a Movers & Shakers page.
func parseMovers(r io.Reader, baseURL string) ([]amazonProduct, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse movers page: %w", err)
	}

	cards := doc.Find("[id^='gridItemRoot']")
	if cards.Length() == 0 {
		cards = doc.Find(".a-list-item .zg-grid-general-faceout")
	}

	var products []amazonProduct
	cards.Each(func(_ int, card *goquery.Selection) {
		name := firstText(card, "._cDEzb_p13n-sc-css-line-clamp-1_1Fn1y", ".p13n-sc-truncate", "a[href] span div")
		if name == "" {
			return
		}
		p := amazonProduct{
			name:          name,
			percentChange: parseNumber(firstText(card, ".zg-percent-change span", "[class*='percent']")),
			price:         parseNumber(firstText(card, ".p13n-sc-price", "span.a-price .a-offscreen")),
			rating:        firstText(card, "span.a-icon-alt"),
		}
		if src, ok := card.Find("img").First().Attr("src"); ok {
			p.imageURL = src
		}
		if href, ok := card.Find("a[href*='/dp/']").First().Attr("href"); ok && href != "" {
			if strings.HasPrefix(href, "/") {
				href = baseURL + href
			}
			p.productURL = href
		}
		products = append(products, p)
	})
	return products, nil
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// parseNumber reads "1,200%" or "$29.99" as a float; unparseable text is 0.
func parseNumber(text string) float64 {
	cleaned := nonNumeric.ReplaceAllString(strings.ReplaceAll(text, ",", ""), "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}
