package source

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/productradar/internal/logging"
)

const aliexpressEndpoint = "https://api-sg.aliexpress.com/sync"

var aliexpressCategories = []string{"toys", "beauty", "sports", "home", "electronics", "clothing"}

// AliExpress queries the affiliate hot-product API per category. Ten
// thousand recent orders map to the maximum value of 100.
type AliExpress struct {
	fetch     *fetcher
	appKey    string
	appSecret string
	endpoint  string
	now       func() time.Time
}

// NewAliExpress creates a new AliExpress producer.
func NewAliExpress(appKey, appSecret string, interval time.Duration) *AliExpress {
	return &AliExpress{
		fetch:     newFetcher(interval),
		appKey:    appKey,
		appSecret: appSecret,
		endpoint:  aliexpressEndpoint,
		now:       time.Now,
	}
}

func (a *AliExpress) Name() SourceType { return SourceAliExpress }

func (a *AliExpress) Collect(ctx context.Context, _ []string) ([]Signal, error) {
	if a.appKey == "" || a.appSecret == "" {
		return nil, fmt.Errorf("aliexpress: app key and secret required (set ALIEXPRESS_APP_KEY)")
	}

	var all []Signal
	for _, category := range aliexpressCategories {
		signals, err := a.fetchCategory(ctx, category)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			logging.Warn().Err(err).Str("category", category).Msg("aliexpress category failed")
			continue
		}
		all = append(all, signals...)
	}
	return all, nil
}

func (a *AliExpress) fetchCategory(ctx context.Context, category string) ([]Signal, error) {
	params := a.signedParams(category)

	var resp struct {
		Response struct {
			RespResult struct {
				Result struct {
					Products struct {
						Product []aliexpressProduct `json:"product"`
					} `json:"products"`
				} `json:"result"`
			} `json:"resp_result"`
		} `json:"aliexpress_affiliate_hotproduct_query_response"`
	}
	if err := a.fetch.getJSON(ctx, a.endpoint+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	var signals []Signal
	for i, p := range resp.Response.RespResult.Result.Products.Product {
		value := math.Min(float64(p.LastestVolume)/100, 100)
		if value <= 0 || strings.TrimSpace(p.Title) == "" {
			continue
		}
		meta := Metadata{
			MetaCategory: category,
			MetaRank:     i + 1,
			"orders":     p.LastestVolume,
		}
		price := p.TargetSalePrice
		if price == "" {
			price = p.AppSalePrice
		}
		if f, err := strconv.ParseFloat(price, 64); err == nil && f > 0 {
			meta[MetaPrice] = f
		}
		if p.MainImageURL != "" {
			meta[MetaImageURL] = p.MainImageURL
		}
		if link := firstNonEmpty(p.PromotionLink, p.DetailURL); link != "" {
			meta[MetaProductURL] = link
		}
		signals = append(signals, newSignal(SourceAliExpress, p.Title, TypeAliExpressHot, value, meta))
	}
	return signals, nil
}

// signedParams builds the request parameters and their HMAC-SHA256 signature
// over the alphabetically sorted key+value concatenation.
func (a *AliExpress) signedParams(category string) url.Values {
	params := map[string]string{
		"method":       "aliexpress.affiliate.hotproduct.query",
		"app_key":      a.appKey,
		"timestamp":    strconv.FormatInt(a.now().UnixMilli(), 10),
		"sign_method":  "sha256",
		"format":       "json",
		"v":            "2.0",
		"category_ids": category,
		"fields":       "product_title,target_sale_price,app_sale_price,product_main_image_url,promotion_link,product_detail_url,lastest_volume",
		"page_size":    "50",
		"sort":         "LAST_VOLUME_DESC",
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	values := url.Values{}
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
		values.Set(k, params[k])
	}

	mac := hmac.New(sha256.New, []byte(a.appSecret))
	mac.Write([]byte(b.String()))
	values.Set("sign", strings.ToUpper(hex.EncodeToString(mac.Sum(nil))))
	return values
}

type aliexpressProduct struct {
	Title           string `json:"product_title"`
	TargetSalePrice string `json:"target_sale_price"`
	AppSalePrice    string `json:"app_sale_price"`
	MainImageURL    string `json:"product_main_image_url"`
	PromotionLink   string `json:"promotion_link"`
	DetailURL       string `json:"product_detail_url"`
	LastestVolume   int    `json:"lastest_volume"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
