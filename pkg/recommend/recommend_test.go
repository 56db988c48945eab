package recommend

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/source"
)

type fakeStore struct {
	products map[int64]store.Product
	// history holds each product's snapshots, oldest first.
	history map[int64][]store.TrendScore
	sources map[int64][]source.SourceType
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[int64]store.Product),
		history:  make(map[int64][]store.TrendScore),
		sources:  make(map[int64][]source.SourceType),
	}
}

func (f *fakeStore) add(id int64, name string, snaps ...store.TrendScore) {
	f.products[id] = store.Product{ID: id, CanonicalName: name}
	for _, s := range snaps {
		s.ProductID = id
		f.history[id] = append(f.history[id], s)
	}
}

func (f *fakeStore) LatestPerProduct(context.Context) ([]store.TrendScore, error) {
	var out []store.TrendScore
	for _, h := range f.history {
		out = append(out, h[len(h)-1])
	}
	slices.SortFunc(out, func(a, b store.TrendScore) int {
		if a.Composite != b.Composite {
			if a.Composite > b.Composite {
				return -1
			}
			return 1
		}
		return int(a.ProductID - b.ProductID)
	})
	return out, nil
}

func (f *fakeStore) GetProduct(_ context.Context, id int64) (*store.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) RecentSnapshots(_ context.Context, id int64, limit int) ([]store.TrendScore, error) {
	h := f.history[id]
	var out []store.TrendScore
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (f *fakeStore) DistinctSources(_ context.Context, id int64) ([]source.SourceType, error) {
	return f.sources[id], nil
}

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func([]Candidate) ([]Analysis, error)
}

func (a *fakeAnalyzer) Analyze(_ context.Context, cs []Candidate) ([]Analysis, error) {
	a.calls.Add(1)
	return a.fn(cs)
}

func goodAnalyses(cs []Candidate) ([]Analysis, error) {
	out := make([]Analysis, len(cs))
	for i, c := range cs {
		out[i] = Analysis{
			Name:          c.Product.CanonicalName,
			Verdict:       VerdictModerate,
			Strengths:     []string{"steady demand", "light to ship"},
			Risks:         []string{"crowded niche", "seasonal"},
			Strategy:      "Test with short-form video ads.",
			TargetChannel: "TikTok Ads",
		}
	}
	return out, nil
}

func TestSuitability(t *testing.T) {
	ts := store.TrendScore{TrendShape: 50, PriceFit: 100, Sentiment: 50, SocialVelocity: 20, Platforms: 7}
	if got := Suitability(ts); math.Abs(got-63) > 1e-9 {
		t.Errorf("Suitability = %v, want 63", got)
	}
}

func ids(s []scored) []int64 {
	out := make([]int64, len(s))
	for i, x := range s {
		out[i] = x.score.ProductID
	}
	return out
}

func TestSelectTop(t *testing.T) {
	mk := func(id int64, composite, shape, suit float64) scored {
		return scored{score: store.TrendScore{ProductID: id, Composite: composite, TrendShape: shape}, suitability: suit}
	}
	pool := []scored{
		mk(1, 50, 70, 40),
		mk(2, 40, 10, 90), // fad
		mk(3, 35, 60, 55),
		mk(4, 10, 80, 99),
	}

	tests := []struct {
		name string
		in   []scored
		topN int
		want []int64
	}{
		{"strict suffices", pool, 2, []int64{3, 1}},
		{"relaxed when short", pool, 3, []int64{2, 3, 1}},
		{"relaxed keeps top n", pool, 5, []int64{2, 3, 1}},
		{"raw fallback", []scored{mk(5, 5, 50, 10), mk(6, 15, 50, 5), mk(7, 12, 50, 80)}, 2, []int64{6, 7}},
		{"empty", nil, 3, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(selectTop(tt.in, tt.topN))
			if !slices.Equal(got, tt.want) {
				t.Errorf("selectTop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecommendCachesWithinTTL(t *testing.T) {
	st := newFakeStore()
	st.add(1, "neck fan", store.TrendScore{Composite: 45, TrendShape: 60, PriceFit: 100})
	an := &fakeAnalyzer{fn: goodAnalyses}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache(DefaultTTL)
	cache.now = func() time.Time { return now }
	e := NewEngine(st, an, cache)
	ctx := context.Background()

	first, err := e.Recommend(ctx, 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	now = now.Add(3 * time.Hour)
	second, _ := e.Recommend(ctx, 5)
	if an.calls.Load() != 1 {
		t.Errorf("analyzer calls = %d, want 1 within TTL", an.calls.Load())
	}
	if &first[0] != &second[0] {
		t.Error("cache hit should return the same list")
	}

	// A different list size is its own entry.
	e.Recommend(ctx, 3)
	if an.calls.Load() != 2 {
		t.Errorf("analyzer calls = %d, want 2 for a new top_n", an.calls.Load())
	}

	now = now.Add(time.Hour)
	e.Recommend(ctx, 5)
	if an.calls.Load() != 3 {
		t.Errorf("analyzer calls = %d, want 3 after expiry", an.calls.Load())
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	c := NewCache(time.Hour)
	calls := 0
	compute := func(context.Context) ([]Recommendation, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("db locked")
		}
		return []Recommendation{}, nil
	}
	if _, err := c.Get(context.Background(), 5, compute); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Get(context.Background(), 5, compute); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if calls != 2 {
		t.Errorf("compute calls = %d, want 2", calls)
	}
}

func TestCacheSharesConcurrentMisses(t *testing.T) {
	c := NewCache(time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]Recommendation, error) {
		calls.Add(1)
		<-release
		return []Recommendation{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), 5, compute)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute calls = %d, want 1", calls.Load())
	}
}

func TestRecommendFallbackOnLengthMismatch(t *testing.T) {
	st := newFakeStore()
	st.add(1, "neck fan", store.TrendScore{Composite: 45, TrendShape: 80, PriceFit: 100, Sentiment: 90, SocialVelocity: 60, Platforms: 4})
	st.add(2, "cloud slides", store.TrendScore{Composite: 35, TrendShape: 50, PriceFit: 50, Platforms: 1})
	an := &fakeAnalyzer{fn: func(cs []Candidate) ([]Analysis, error) {
		out, _ := goodAnalyses(cs)
		return out[:1], nil
	}}

	recs, err := NewEngine(st, an, nil).Recommend(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d recommendations", len(recs))
	}
	for _, r := range recs {
		if !r.Fallback {
			t.Errorf("%s: expected template analysis", r.Product.CanonicalName)
		}
	}

	// neck fan: 24 + 25 + 18 + 9 + 0.1*400/7 = 81.7
	fan := recs[0]
	if fan.Product.CanonicalName != "neck fan" || fan.Verdict != VerdictStrong || fan.TargetChannel != "TikTok Ads" {
		t.Errorf("neck fan = %+v", fan)
	}
	if fan.Suitability != 81.7 {
		t.Errorf("suitability = %v, want 81.7", fan.Suitability)
	}
	slides := recs[1]
	if slides.Verdict != VerdictSpeculative || slides.TargetChannel != "Google Shopping" {
		t.Errorf("cloud slides = %+v", slides)
	}
	if slides.Strengths[0] != "Trend shape score: 50/100" || slides.Strengths[2] != "Present on 1 platform(s)" {
		t.Errorf("strengths = %v", slides.Strengths)
	}
}

func TestRecommendReplacesMalformedEntry(t *testing.T) {
	st := newFakeStore()
	st.add(1, "neck fan", store.TrendScore{Composite: 45, TrendShape: 80})
	st.add(2, "cloud slides", store.TrendScore{Composite: 35, TrendShape: 50})
	an := &fakeAnalyzer{fn: func(cs []Candidate) ([]Analysis, error) {
		out, _ := goodAnalyses(cs)
		out[1].Verdict = "Maybe"
		return out, nil
	}}

	recs, err := NewEngine(st, an, nil).Recommend(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if recs[0].Fallback || recs[0].Strategy != "Test with short-form video ads." {
		t.Errorf("first = %+v, want service analysis", recs[0])
	}
	if !recs[1].Fallback || recs[1].Verdict == "Maybe" {
		t.Errorf("second = %+v, want template", recs[1])
	}
}

func TestRecommendWithoutAnalyzer(t *testing.T) {
	st := newFakeStore()
	st.add(1, "neck fan", store.TrendScore{Composite: 45, TrendShape: 80})

	recs, err := NewEngine(st, nil, nil).Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 1 || !recs[0].Fallback {
		t.Fatalf("recs = %+v", recs)
	}
	if !strings.Contains(recs[0].Risks[0], "no reasoning service configured") {
		t.Errorf("risk = %q", recs[0].Risks[0])
	}
}

func TestRecommendSparklineAndSources(t *testing.T) {
	st := newFakeStore()
	var snaps []store.TrendScore
	for i := 1; i <= 9; i++ {
		snaps = append(snaps, store.TrendScore{Composite: float64(i * 10), TrendShape: 60})
	}
	st.add(1, "neck fan", snaps...)
	st.sources[1] = []source.SourceType{source.SourceReddit, source.SourceTikTok}

	recs, err := NewEngine(st, &fakeAnalyzer{fn: goodAnalyses}, nil).Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	want := []float64{30, 40, 50, 60, 70, 80, 90}
	if !slices.Equal(recs[0].Sparkline, want) {
		t.Errorf("sparkline = %v, want %v", recs[0].Sparkline, want)
	}
	if len(recs[0].Sources) != 2 {
		t.Errorf("sources = %v", recs[0].Sources)
	}
}

func TestRecommendEmpty(t *testing.T) {
	recs, err := NewEngine(newFakeStore(), nil, nil).Recommend(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("recs = %#v, want empty list", recs)
	}
}

func TestStripFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{`[{"a":1}]`, `[{"a":1}]`},
		{"```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"  ```\n[]\n```  ", `[]`},
	}
	for _, tt := range tests {
		if got := stripFence(tt.in); got != tt.want {
			t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testCandidates() []Candidate {
	low, high := 19.0, 29.0
	return []Candidate{
		{Product: store.Product{ID: 1, CanonicalName: "neck fan", PriceLow: &low, PriceHigh: &high}, Suitability: 70},
		{Product: store.Product{ID: 2, CanonicalName: "cloud slides"}, Suitability: 45},
	}
}

func TestLLMAnalyzerOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "price: $19-$29") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		analyses, _ := goodAnalyses(testCandidates())
		content, _ := json.Marshal(analyses)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "```json\n" + string(content) + "\n```"}},
			},
		})
	}))
	defer srv.Close()

	a := NewLLMAnalyzer("openai", "", "key", srv.URL, time.Second)
	defer a.Close()
	got, err := a.Analyze(context.Background(), testCandidates())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got) != 2 || got[1].Name != "cloud slides" || got[0].Verdict != VerdictModerate {
		t.Errorf("analyses = %+v", got)
	}
}

func TestLLMAnalyzerAnthropicLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": `[{"name":"neck fan","verdict":"Strong"}]`}},
		})
	}))
	defer srv.Close()

	a := NewLLMAnalyzer("anthropic", "", "key", srv.URL, time.Second)
	if _, err := a.Analyze(context.Background(), testCandidates()); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
