package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/elonfeng/productradar/pkg/recommend"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	ProductID     int64             `json:"product_id"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	URL           string            `json:"url,omitempty"`
	ImageURL      string            `json:"image_url,omitempty"`
	Verdict       recommend.Verdict `json:"verdict"`
	Suitability   float64           `json:"suitability"`
	Score         float64           `json:"score"`
	Sources       []string          `json:"sources"`
	Strengths     []string          `json:"strengths"`
	Risks         []string          `json:"risks"`
	TargetChannel string            `json:"target_channel"`
}

// FromRecommendation builds the notification for one pick.
func FromRecommendation(r recommend.Recommendation) *Notification {
	sources := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		sources[i] = string(s)
	}
	return &Notification{
		ProductID:     r.Product.ID,
		Title:         r.Product.CanonicalName,
		Body:          r.Strategy,
		URL:           r.Product.SourceURL,
		ImageURL:      r.Product.ImageURL,
		Verdict:       r.Verdict,
		Suitability:   r.Suitability,
		Score:         r.Score.Composite,
		Sources:       sources,
		Strengths:     r.Strengths,
		Risks:         r.Risks,
		TargetChannel: r.TargetChannel,
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers and
// remembers which products it has already announced.
type Manager struct {
	notifiers []Notifier

	mu      sync.Mutex
	alerted map[int64]bool
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers, alerted: make(map[int64]bool)}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NotifyStrong announces Strong recommendations not announced before. A
// product is marked only after a broadcast without errors. It returns how
// many were sent.
func (m *Manager) NotifyStrong(ctx context.Context, recs []recommend.Recommendation) (int, error) {
	if !m.HasNotifiers() {
		return 0, nil
	}
	var errs []error
	sent := 0
	for _, r := range recs {
		if r.Verdict != recommend.VerdictStrong {
			continue
		}
		m.mu.Lock()
		done := m.alerted[r.Product.ID]
		m.mu.Unlock()
		if done {
			continue
		}

		if err := m.Broadcast(ctx, FromRecommendation(r)); err != nil {
			errs = append(errs, fmt.Errorf("alert %q: %w", r.Product.CanonicalName, err))
			continue
		}
		m.mu.Lock()
		m.alerted[r.Product.ID] = true
		m.mu.Unlock()
		sent++
	}
	return sent, errors.Join(errs...)
}

func headline(n *Notification) string {
	return fmt.Sprintf("🔥 %s: %s", n.Verdict, n.Title)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "n/a"
	}
	return "• " + strings.Join(items, "\n• ")
}

// postChatWebhook posts payload as JSON and treats any non-2xx as failure.
func postChatWebhook(ctx context.Context, client *http.Client, name, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s webhook: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook status %d", name, resp.StatusCode)
	}
	return nil
}
