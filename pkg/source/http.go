package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const userAgent = "productradar/1.0"

// fetcher is the shared HTTP client for producers. Every request waits on the
// limiter so a producer never exceeds its configured request rate.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// newFetcher allows one request every interval (burst 1). A zero interval
// disables limiting.
func newFetcher(interval time.Duration) *fetcher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (f *fetcher) do(req *http.Request) (*http.Response, error) {
	if err := f.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func (f *fetcher) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return f.do(req)
}

func (f *fetcher) getJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}
	return f.decode(req, v)
}

func (f *fetcher) postJSON(ctx context.Context, rawURL string, header http.Header, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return f.decode(req, v)
}

func (f *fetcher) postForm(ctx context.Context, endpoint string, form url.Values, setup func(*http.Request), v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if setup != nil {
		setup(req)
	}
	return f.decode(req, v)
}

func (f *fetcher) decode(req *http.Request, v any) error {
	resp, err := f.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
