package trend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/productradar/internal/breaker"
	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
	"github.com/elonfeng/productradar/pkg/source"
)

const (
	maxSentimentText     = 512
	maxCommentsPerSignal = 5
	classifyBatchSize    = 32
)

// Label is one classifier verdict.
type Label struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"score"`
}

// Classifier labels texts as positive or negative. Results must be in input
// order and of the same length.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Label, error)
}

// sentimentTexts collects title, up to five comments and review text from
// Reddit and Amazon signals, each cut to 512 bytes.
func sentimentTexts(signals []source.Signal) []string {
	var texts []string
	add := func(s string) {
		if len(s) > maxSentimentText {
			s = s[:maxSentimentText]
		}
		texts = append(texts, s)
	}
	for _, s := range signals {
		if s.Source != source.SourceReddit && s.Source != source.SourceAmazon {
			continue
		}
		if title, ok := s.Metadata.String(source.MetaTitle); ok {
			add(title)
		}
		comments := s.Metadata.Strings(source.MetaTopComments)
		if len(comments) > maxCommentsPerSignal {
			comments = comments[:maxCommentsPerSignal]
		}
		for _, c := range comments {
			add(c)
		}
		if review, ok := s.Metadata.String(source.MetaReviewText); ok {
			add(review)
		}
	}
	return texts
}

// labelScore maps a verdict onto 0-100 around the neutral midpoint.
func labelScore(l Label) float64 {
	conf := clamp(l.Confidence, 0, 1)
	if strings.EqualFold(l.Label, "POSITIVE") {
		return 50 + conf*50
	}
	return 50 - conf*50
}

// Sentiment averages classifier verdicts over the text in signals. It never
// fails: no text, no classifier, or a classifier error all yield 50.
func Sentiment(ctx context.Context, c Classifier, signals []source.Signal) float64 {
	texts := sentimentTexts(signals)
	if len(texts) == 0 || c == nil {
		return Neutral
	}

	labels, err := c.Classify(ctx, texts)
	if err == nil && len(labels) != len(texts) {
		err = fmt.Errorf("classifier returned %d labels for %d texts", len(labels), len(texts))
	}
	if err != nil {
		metrics.ExternalFallbacks.WithLabelValues("sentiment").Inc()
		logging.Warn().Err(err).Int("texts", len(texts)).Msg("sentiment classifier unavailable, using neutral score")
		return Neutral
	}

	sum := 0.0
	for _, l := range labels {
		sum += labelScore(l)
	}
	return round2(sum / float64(len(labels)))
}

// HTTPClassifier calls a hosted text-classification model. Requests use the
// Hugging Face inference format: {"inputs": [...]} in, one list of scored
// labels per input out.
type HTTPClassifier struct {
	client   *http.Client
	endpoint string
	token    string
	breaker  *breaker.Breaker[[]Label]
}

// NewHTTPClassifier creates a classifier for endpoint. It holds pooled
// connections until Close.
func NewHTTPClassifier(endpoint, token string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClassifier{
		client:   &http.Client{},
		endpoint: endpoint,
		token:    token,
		breaker:  breaker.New[[]Label]("sentiment", timeout),
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, texts []string) ([]Label, error) {
	out := make([]Label, 0, len(texts))
	for start := 0; start < len(texts); start += classifyBatchSize {
		end := min(start+classifyBatchSize, len(texts))
		batch := texts[start:end]
		labels, err := c.breaker.Execute(ctx, func(ctx context.Context) ([]Label, error) {
			return c.classifyBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, labels...)
	}
	return out, nil
}

func (c *HTTPClassifier) classifyBatch(ctx context.Context, texts []string) ([]Label, error) {
	body, err := json.Marshal(map[string]any{
		"inputs":     texts,
		"parameters": map[string]any{"truncation": true},
	})
	if err != nil {
		return nil, fmt.Errorf("encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier status %d: %s", resp.StatusCode, string(msg))
	}

	var scored [][]Label
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("decode classify response: %w", err)
	}
	if len(scored) != len(texts) {
		return nil, fmt.Errorf("classifier returned %d results for %d texts", len(scored), len(texts))
	}

	labels := make([]Label, len(scored))
	for i, candidates := range scored {
		for _, l := range candidates {
			if l.Confidence > labels[i].Confidence {
				labels[i] = l
			}
		}
	}
	return labels, nil
}

// Close releases pooled connections.
func (c *HTTPClassifier) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
