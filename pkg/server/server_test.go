package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/ingest"
	"github.com/elonfeng/productradar/pkg/recommend"
	"github.com/elonfeng/productradar/pkg/source"
)

type fakeStore struct {
	products []store.Product
}

func (f *fakeStore) ListProducts(context.Context) ([]store.Product, error) { return f.products, nil }

func (f *fakeStore) GetProduct(_ context.Context, id int64) (*store.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetAliasesFor(_ context.Context, id int64) ([]store.Alias, error) {
	return []store.Alias{{ID: 1, ProductID: id, Name: "neck fans", Source: source.SourceTikTok}}, nil
}

func (f *fakeStore) LatestPerProduct(context.Context) ([]store.TrendScore, error) {
	return []store.TrendScore{{ID: 3, ProductID: 1, Composite: 42}}, nil
}

func (f *fakeStore) RecentSnapshots(context.Context, int64, int) ([]store.TrendScore, error) {
	return []store.TrendScore{{ID: 3, ProductID: 1, Composite: 42}}, nil
}

func (f *fakeStore) PriceHistory(context.Context, int64) ([]store.PriceObservation, error) {
	return nil, nil
}

type fakeCollector struct{}

func (fakeCollector) CollectAll(context.Context) ([]ingest.Result, error) {
	return []ingest.Result{
		{RunID: "r1", Source: source.SourceAmazon, Signals: 12, Products: 4},
		{Source: source.SourceReddit, Err: errors.New("401")},
	}, errors.New("reddit: 401")
}

type fakeRecommender struct{ lastTop int }

func (f *fakeRecommender) Recommend(_ context.Context, topN int) ([]recommend.Recommendation, error) {
	f.lastTop = topN
	return []recommend.Recommendation{{
		Product:  store.Product{ID: 1, CanonicalName: "neck fan"},
		Analysis: recommend.Analysis{Verdict: recommend.VerdictStrong},
	}}, nil
}

func newTestServer() (*Server, *fakeRecommender) {
	rec := &fakeRecommender{}
	st := &fakeStore{products: []store.Product{{ID: 1, CanonicalName: "neck fan"}}}
	return New(st, fakeCollector{}, rec, 5, 0), rec
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rr, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	rr, body := do(t, s.Handler(), http.MethodGet, "/health")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rr.Code, body)
	}
}

func TestProducts(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	rr, body := do(t, h, http.MethodGet, "/api/v1/products")
	if rr.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("products = %d %v", rr.Code, body)
	}

	rr, body = do(t, h, http.MethodGet, "/api/v1/products/1")
	if rr.Code != http.StatusOK {
		t.Fatalf("product = %d", rr.Code)
	}
	if aliases := body["aliases"].([]any); len(aliases) != 1 {
		t.Errorf("aliases = %v", aliases)
	}

	if rr, _ := do(t, h, http.MethodGet, "/api/v1/products/99"); rr.Code != http.StatusNotFound {
		t.Errorf("missing product = %d, want 404", rr.Code)
	}
	if rr, _ := do(t, h, http.MethodGet, "/api/v1/products/abc"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rr.Code)
	}
}

func TestRecommendationsTopParam(t *testing.T) {
	s, rec := newTestServer()
	h := s.Handler()

	rr, body := do(t, h, http.MethodGet, "/api/v1/recommendations")
	if rr.Code != http.StatusOK || rec.lastTop != 5 {
		t.Errorf("default = %d top %d", rr.Code, rec.lastTop)
	}
	first := body["data"].([]any)[0].(map[string]any)
	if first["verdict"] != "Strong" {
		t.Errorf("recommendation = %v", first)
	}

	do(t, h, http.MethodGet, "/api/v1/recommendations?top=12")
	if rec.lastTop != 12 {
		t.Errorf("top = %d, want 12", rec.lastTop)
	}

	for _, bad := range []string{"0", "-1", "x", "500"} {
		if rr, _ := do(t, h, http.MethodGet, "/api/v1/recommendations?top="+bad); rr.Code != http.StatusBadRequest {
			t.Errorf("top=%s: status %d, want 400", bad, rr.Code)
		}
	}
}

func TestCollectReportsFailures(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	if rr, _ := do(t, h, http.MethodGet, "/api/v1/collect"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET collect = %d, want 405", rr.Code)
	}

	rr, body := do(t, h, http.MethodPost, "/api/v1/collect")
	if rr.Code != http.StatusOK || body["failed"].(float64) != 1 {
		t.Fatalf("collect = %d %v", rr.Code, body)
	}
	results := body["data"].([]any)
	if results[1].(map[string]any)["error"] != "401" {
		t.Errorf("results = %v", results)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rr.Code)
	}
}
