package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is the envelope posted to generic webhooks.
type Event struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	SentAt         time.Time     `json:"sent_at"`
	Recommendation *Notification `json:"recommendation"`
}

// Webhook posts recommendation events to an arbitrary HTTP endpoint. When a
// secret is set every delivery is signed over "<unix timestamp>.<body>".
type Webhook struct {
	client   *http.Client
	endpoint string
	secret   string
	now      func() time.Time
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(endpoint, secret string) *Webhook {
	return &Webhook{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		secret:   secret,
		now:      time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	ev := Event{
		ID:             uuid.NewString(),
		Type:           "recommendation." + strings.ToLower(string(n.Verdict)),
		SentAt:         w.now().UTC(),
		Recommendation: n,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "productradar/1.0")
	req.Header.Set("X-Productradar-Event", ev.Type)
	req.Header.Set("X-Productradar-Delivery", ev.ID)

	if w.secret != "" {
		ts := strconv.FormatInt(ev.SentAt.Unix(), 10)
		req.Header.Set("X-Productradar-Timestamp", ts)
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver %s: status %d", ev.ID, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of timestamp "." body under secret.
// Receivers recompute it to authenticate a delivery.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
