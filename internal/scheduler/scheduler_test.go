package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/alert"
	"github.com/elonfeng/productradar/pkg/identity"
	"github.com/elonfeng/productradar/pkg/ingest"
	"github.com/elonfeng/productradar/pkg/recommend"
	"github.com/elonfeng/productradar/pkg/source"
	"github.com/elonfeng/productradar/pkg/trend"
)

type stubSource struct {
	name    source.SourceType
	signals []source.Signal
	err     error
}

func (s *stubSource) Name() source.SourceType { return s.name }

func (s *stubSource) Collect(context.Context, []string) ([]source.Signal, error) {
	return s.signals, s.err
}

type captureNotifier struct{ sent []*alert.Notification }

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, n *alert.Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

func newPipeline(t *testing.T, sources ...source.Source) (*Scheduler, *store.SQLiteStore, *captureNotifier) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	notifier := &captureNotifier{}
	s := New(Options{
		Sources:     sources,
		Keywords:    []string{"lamp"},
		Ingestor:    ingest.New(st, identity.NewResolver(st), nil),
		Scorer:      trend.NewScorer(st, nil, trend.ScorerConfig{Workers: 2}),
		Recommender: recommend.NewEngine(st, nil, nil),
		Alerts:      alert.NewManager([]alert.Notifier{notifier}),
	})
	return s, st, notifier
}

func TestCollectAllReportsPerSource(t *testing.T) {
	now := time.Now().UTC()
	ok := &stubSource{name: source.SourceTikTok, signals: []source.Signal{
		{ProductName: "Sunset Lamp", Source: source.SourceTikTok, Type: source.TypeTikTokPopularity, Value: 900, CollectedAt: now},
	}}
	broken := &stubSource{name: source.SourceReddit, err: errors.New("401 unauthorized")}
	partial := &stubSource{
		name: source.SourceAmazon,
		signals: []source.Signal{
			{ProductName: "sunset lamp", Source: source.SourceAmazon, Type: source.TypeBSRMomentum, Value: 300, CollectedAt: now},
		},
		err: errors.New("category kitchen: 503"),
	}

	s, st, _ := newPipeline(t, ok, broken, partial)
	results, err := s.CollectAll(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if !results[0].OK() || results[0].Signals != 1 {
		t.Errorf("tiktok = %+v", results[0])
	}
	if results[1].OK() || results[1].Source != source.SourceReddit {
		t.Errorf("reddit = %+v", results[1])
	}
	if results[2].OK() || results[2].Signals != 1 {
		t.Errorf("amazon partial = %+v", results[2])
	}

	products, _ := st.ListProducts(context.Background())
	if len(products) != 1 {
		t.Errorf("products = %d, want 1", len(products))
	}
}

func TestScoreAndAlert(t *testing.T) {
	now := time.Now().UTC()
	var signals []source.Signal
	for _, src := range []source.SourceType{source.SourceTikTok, source.SourceReddit, source.SourceAmazon} {
		signals = append(signals, source.Signal{
			ProductName: "Sunset Lamp", Source: src, Type: source.TypeMention, Value: 1, CollectedAt: now,
		})
	}
	s, st, notifier := newPipeline(t, &stubSource{name: source.SourceTikTok, signals: signals})
	ctx := context.Background()

	if _, err := s.CollectAll(ctx); err != nil {
		t.Fatalf("CollectAll: %v", err)
	}
	s.ScoreAndAlert(ctx)

	latest, err := st.LatestPerProduct(ctx)
	if err != nil || len(latest) != 1 {
		t.Fatalf("LatestPerProduct = %v, %v", latest, err)
	}
	if latest[0].Platforms != 3 {
		t.Errorf("platforms = %d, want 3", latest[0].Platforms)
	}
	// Neutral components without a price or history never reach Strong.
	if len(notifier.sent) != 0 {
		t.Errorf("sent %d alerts, want 0", len(notifier.sent))
	}
}
