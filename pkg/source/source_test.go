package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{
		"price":        "$19.99",
		"count":        float64(42),
		"title":        "  Mini Blender  ",
		"blank":        "   ",
		"wrong":        12,
		"top_comments": []any{"need this", map[string]any{"body": "take my money"}, 3},
	}

	if got, ok := m.Float("price"); !ok || got != 19.99 {
		t.Errorf("Float(price) = %v, %v", got, ok)
	}
	if got, ok := m.Float("count"); !ok || got != 42 {
		t.Errorf("Float(count) = %v, %v", got, ok)
	}
	if _, ok := m.Float("missing"); ok {
		t.Error("Float(missing) should not be ok")
	}
	if got, ok := m.String("title"); !ok || got != "Mini Blender" {
		t.Errorf("String(title) = %q, %v", got, ok)
	}
	if _, ok := m.String("blank"); ok {
		t.Error("String(blank) should not be ok")
	}
	if _, ok := m.String("wrong"); ok {
		t.Error("String on a number should not be ok")
	}

	comments := m.Strings("top_comments")
	if len(comments) != 2 || comments[1] != "take my money" {
		t.Errorf("Strings(top_comments) = %v", comments)
	}
	if got := m.Strings("title"); len(got) != 1 {
		t.Errorf("Strings on a bare string = %v", got)
	}

	var nilMeta Metadata
	if _, ok := nilMeta.String("title"); ok {
		t.Error("nil metadata should report absence")
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter([]string{"giveaway"})
	tests := []struct {
		label string
		want  bool
	}{
		{"Portable Neck Fan", true},
		{"How to start a TikTok shop", false},
		{"Dropshipping tutorial 2024", false},
		{"Best supplier list", false},
		{"Huge GIVEAWAY blender", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.IsProduct(tt.label); got != tt.want {
			t.Errorf("IsProduct(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}

	in := []Signal{{ProductName: "LED Mask"}, {ProductName: "make money online"}}
	out := f.Apply(in)
	if len(out) != 1 || out[0].ProductName != "LED Mask" {
		t.Errorf("Apply = %v", out)
	}
}

func TestExtractRedditProduct(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{`Just found "Cloud Slides" on sale`, "Cloud Slides"},
		{"[OC] my new Ember Mug Pro keeps coffee hot", "Ember Mug Pro"},
		{"so good!!", "so good"},
	}
	for _, tt := range tests {
		if got := extractRedditProduct(tt.title); got != tt.want {
			t.Errorf("extractRedditProduct(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestApproxTraffic(t *testing.T) {
	tests := map[string]int{
		"20,000+": 20000,
		"2K+":     2000,
		"1M+":     1000000,
		"":        0,
		"lots":    0,
	}
	for in, want := range tests {
		if got := approxTraffic(in); got != want {
			t.Errorf("approxTraffic(%q) = %d, want %d", in, got, want)
		}
	}
}

const moversHTML = `<html><body>
<div id="gridItemRoot">
  <span class="zg-percent-change"><span>1,200%</span></span>
  <a class="a-link-normal" href="/Mini-Projector/dp/B0TEST"><img src="https://img/1.jpg"/>
    <div class="p13n-sc-truncate">Mini Projector</div></a>
  <span class="p13n-sc-price">$49.99</span>
  <span class="a-icon-alt">4.5 out of 5 stars</span>
</div>
<div id="gridItemRoot2">
  <div class="p13n-sc-truncate">Ice Roller</div>
</div>
<div id="gridItemRoot3"></div>
</body></html>`

func TestParseMovers(t *testing.T) {
	products, err := parseMovers(strings.NewReader(moversHTML), "https://www.amazon.com")
	if err != nil {
		t.Fatalf("parseMovers: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	p := products[0]
	if p.name != "Mini Projector" || p.percentChange != 1200 || p.price != 49.99 {
		t.Errorf("unexpected product: %+v", p)
	}
	if p.productURL != "https://www.amazon.com/Mini-Projector/dp/B0TEST" {
		t.Errorf("productURL = %q", p.productURL)
	}
	if p.imageURL != "https://img/1.jpg" {
		t.Errorf("imageURL = %q", p.imageURL)
	}
	if products[1].percentChange != 0 || products[1].price != 0 {
		t.Errorf("missing fields should be zero: %+v", products[1])
	}
}

func TestAmazonCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, moversHTML)
	}))
	defer srv.Close()

	a := NewAmazon(0)
	a.baseURL = srv.URL
	a.categories = map[string]string{"electronics": "electronics"}

	signals, err := a.Collect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var momentum, mentions int
	for _, s := range signals {
		switch s.Type {
		case TypeBSRMomentum:
			momentum++
			if cat, _ := s.Metadata.String(MetaCategory); cat != "electronics" {
				t.Errorf("category = %q", cat)
			}
		case TypeMention:
			mentions++
		}
	}
	if momentum != 1 || mentions != 2 {
		t.Errorf("momentum=%d mentions=%d", momentum, mentions)
	}
}

func TestShopifyCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products.json" || r.URL.Query().Get("sort_by") != "best-selling" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"products":[
			{"title":"Sunset Lamp","handle":"sunset-lamp","variants":[{"price":"24.00"}],"images":[{"src":"https://cdn/lamp.jpg"}]},
			{"title":"","handle":"blank"},
			{"title":"Cloud Slides","handle":"slides","variants":[{"price":"bad"}]}
		]}`)
	}))
	defer srv.Close()

	s := NewShopify([]string{srv.URL + "/"}, 0)
	signals, err := s.Collect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Value != 100 || signals[1].Value != 98 {
		t.Errorf("rank values = %v, %v", signals[0].Value, signals[1].Value)
	}
	if price, ok := signals[0].Metadata.Float(MetaPrice); !ok || price != 24 {
		t.Errorf("price = %v, %v", price, ok)
	}
	if _, ok := signals[1].Metadata.Float(MetaPrice); ok {
		t.Error("unparseable price should be absent")
	}
	if u, _ := signals[0].Metadata.String(MetaProductURL); u != srv.URL+"/products/sunset-lamp" {
		t.Errorf("product_url = %q", u)
	}
}

func TestShopifyRequiresStores(t *testing.T) {
	if _, err := NewShopify(nil, 0).Collect(context.Background(), nil); err == nil {
		t.Error("expected error without stores")
	}
}

func TestRedditCollect(t *testing.T) {
	created := float64(time.Now().Add(-2 * time.Hour).Unix())
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "id" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	})
	mux.HandleFunc("/r/gadgets/hot.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"data":{"children":[
			{"data":{"id":"a1","title":"This neck fan is amazing","permalink":"/r/gadgets/a1","score":200,"num_comments":3,"created_utc":%f}},
			{"data":{"id":"a2","title":"Weekly thread","stickied":true,"created_utc":%f}}
		]}}`, created, created)
	})
	mux.HandleFunc("/comments/a1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"data":{"children":[]}},{"data":{"children":[
			{"kind":"t1","data":{"body":"where can I buy this"}},
			{"kind":"more","data":{}}
		]}}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewReddit("id", "secret", []string{"gadgets"}, 0)
	r.authURL = srv.URL + "/api/v1/access_token"
	r.apiURL = srv.URL

	signals, err := r.Collect(context.Background(), []string{"Neck Fan"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected velocity + mention, got %d", len(signals))
	}
	v := signals[0]
	if v.Type != TypeUpvoteVelocity || v.ProductName != "neck fan" {
		t.Errorf("unexpected signal %+v", v)
	}
	if v.Value < 95 || v.Value > 105 {
		t.Errorf("velocity = %v, want about 100", v.Value)
	}
	if comments := v.Metadata.Strings(MetaTopComments); len(comments) != 1 || comments[0] != "where can I buy this" {
		t.Errorf("top_comments = %v", comments)
	}
}

func TestRedditRequiresCredentials(t *testing.T) {
	if _, err := NewReddit("", "", nil, 0).Collect(context.Background(), nil); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestGoogleTrendsCollect(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:ht="https://trends.google.com/trending/rss">
<channel><title>Daily Search Trends</title>
<item><title>Magnetic Phone Mount</title><ht:approx_traffic>200,000+</ht:approx_traffic>
  <ht:picture>https://img/mount.jpg</ht:picture>
  <ht:news_item><ht:news_item_url>https://news/mount</ht:news_item_url></ht:news_item></item>
<item><title>Phone Case Glitter</title><ht:approx_traffic>5,000+</ht:approx_traffic></item>
<item><title>Election results</title><ht:approx_traffic>1,000,000+</ht:approx_traffic></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	g := NewGoogleTrends(0)
	g.feedURL = srv.URL

	signals, err := g.Collect(context.Background(), []string{"phone"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int{}
	for _, s := range signals {
		counts[s.Type]++
		if s.ProductName == "Election results" {
			t.Error("unrelated trend should be skipped")
		}
	}
	if counts[TypeSearchVelocity] != 2 || counts[TypeBreakout] != 1 || counts[TypeRising] != 1 {
		t.Errorf("signal counts = %v", counts)
	}
	if img, _ := signals[0].Metadata.String(MetaImageURL); img != "https://img/mount.jpg" {
		t.Errorf("image_url = %q", img)
	}
}

func TestAliExpressSignature(t *testing.T) {
	a := NewAliExpress("key", "secret", 0)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	first := a.signedParams("toys")
	second := a.signedParams("toys")
	if first.Get("sign") == "" || first.Get("sign") != second.Get("sign") {
		t.Errorf("signature should be stable: %q vs %q", first.Get("sign"), second.Get("sign"))
	}
	if first.Get("sign") != strings.ToUpper(first.Get("sign")) {
		t.Error("signature should be upper-case hex")
	}
	if other := a.signedParams("beauty"); other.Get("sign") == first.Get("sign") {
		t.Error("signature should depend on parameters")
	}
}

func TestAliExpressCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"aliexpress_affiliate_hotproduct_query_response":{"resp_result":{"result":{"products":{"product":[
			{"product_title":"Galaxy Projector","target_sale_price":"12.50","lastest_volume":25000,"promotion_link":"https://s.click/1"},
			{"product_title":"Dead Item","lastest_volume":0}
		]}}}}}`)
	}))
	defer srv.Close()

	a := NewAliExpress("key", "secret", 0)
	a.endpoint = srv.URL

	signals, err := a.Collect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(signals) != len(aliexpressCategories) {
		t.Fatalf("expected one signal per category, got %d", len(signals))
	}
	if signals[0].Value != 100 {
		t.Errorf("value = %v, want capped 100", signals[0].Value)
	}
}
