package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/store"
	"github.com/elonfeng/productradar/pkg/ingest"
	"github.com/elonfeng/productradar/pkg/recommend"
)

const maxTopN = 50

// Store is the read side the API serves from.
type Store interface {
	ListProducts(ctx context.Context) ([]store.Product, error)
	GetProduct(ctx context.Context, id int64) (*store.Product, error)
	GetAliasesFor(ctx context.Context, productID int64) ([]store.Alias, error)
	LatestPerProduct(ctx context.Context) ([]store.TrendScore, error)
	RecentSnapshots(ctx context.Context, productID int64, limit int) ([]store.TrendScore, error)
	PriceHistory(ctx context.Context, productID int64) ([]store.PriceObservation, error)
}

// Collector runs every producer once.
type Collector interface {
	CollectAll(ctx context.Context) ([]ingest.Result, error)
}

// Recommender builds recommendation lists.
type Recommender interface {
	Recommend(ctx context.Context, topN int) ([]recommend.Recommendation, error)
}

// Server provides the HTTP API.
type Server struct {
	store       Store
	collector   Collector
	recommender Recommender
	defaultTopN int
	port        int
}

// New creates a new HTTP server.
func New(s Store, c Collector, r Recommender, defaultTopN, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if defaultTopN <= 0 {
		defaultTopN = recommend.DefaultTopN
	}
	return &Server{
		store:       s,
		collector:   c,
		recommender: r,
		defaultTopN: defaultTopN,
		port:        port,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", s.handleProducts)
		r.Get("/products/{id}", s.handleProduct)
		r.Get("/scores", s.handleScores)
		r.Get("/recommendations", s.handleRecommendations)
		r.Post("/collect", s.handleCollect)
	})
	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully. It
// satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("productradar server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  products,
		"count": len(products),
	})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid product id"))
		return
	}
	ctx := r.Context()

	p, err := s.store.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	aliases, err := s.store.GetAliasesFor(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	history, err := s.store.RecentSnapshots(ctx, id, 30)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	prices, err := s.store.PriceHistory(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product": p,
		"aliases": aliases,
		"scores":  history,
		"prices":  prices,
	})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.LatestPerProduct(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  scores,
		"count": len(scores),
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	topN := s.defaultTopN
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopN {
			writeError(w, http.StatusBadRequest, fmt.Errorf("top must be between 1 and %d", maxTopN))
			return
		}
		topN = n
	}

	recs, err := s.recommender.Recommend(r.Context(), topN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  recs,
		"count": len(recs),
	})
}

type collectResult struct {
	Source   string `json:"source"`
	RunID    string `json:"run_id,omitempty"`
	Signals  int    `json:"signals"`
	Products int    `json:"products"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	results, _ := s.collector.CollectAll(r.Context())

	out := make([]collectResult, len(results))
	failed := 0
	for i, res := range results {
		out[i] = collectResult{
			Source:   string(res.Source),
			RunID:    res.RunID,
			Signals:  res.Signals,
			Products: res.Products,
			Skipped:  res.Skipped,
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			failed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   out,
		"failed": failed,
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
