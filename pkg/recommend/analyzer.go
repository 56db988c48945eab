package recommend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/productradar/internal/breaker"
)

const systemPrompt = `You are a dropshipping product analyst. Analyze the provided products and return a JSON array (no markdown fencing). Each element must have exactly these fields: name (string), verdict (one of: Strong, Moderate, Speculative), strengths (array of 2-4 short strings), risks (array of 2-3 short strings), strategy (1-2 sentence string), target_channel (string, e.g. "TikTok Ads", "Google Shopping", "Instagram Influencers"). Order must match input order.`

// LLMAnalyzer asks a chat-completion model for product analyses.
type LLMAnalyzer struct {
	client   *http.Client
	provider string // "openai" or "anthropic"
	model    string
	apiKey   string
	baseURL  string
	breaker  *breaker.Breaker[[]Analysis]
}

// NewLLMAnalyzer creates an analyzer. Each call is bounded by timeout.
func NewLLMAnalyzer(provider, model, apiKey, baseURL string, timeout time.Duration) *LLMAnalyzer {
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-6"
		default:
			model = "gpt-4o-mini"
		}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMAnalyzer{
		client:   &http.Client{},
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		breaker:  breaker.New[[]Analysis]("reasoning", timeout),
	}
}

// Analyze sends all candidates in one request.
func (a *LLMAnalyzer) Analyze(ctx context.Context, candidates []Candidate) ([]Analysis, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	prompt := buildPrompt(candidates)

	return a.breaker.Execute(ctx, func(ctx context.Context) ([]Analysis, error) {
		var raw string
		var err error
		switch a.provider {
		case "anthropic":
			raw, err = a.callAnthropic(ctx, prompt)
		default:
			raw, err = a.callOpenAI(ctx, prompt)
		}
		if err != nil {
			return nil, err
		}

		raw = stripFence(raw)
		var analyses []Analysis
		if err := json.Unmarshal([]byte(raw), &analyses); err != nil {
			return nil, fmt.Errorf("parse llm response: %w\nraw: %s", err, truncateStr(raw, 500))
		}
		if len(analyses) != len(candidates) {
			return nil, fmt.Errorf("llm returned %d analyses for %d products", len(analyses), len(candidates))
		}
		return analyses, nil
	})
}

func priceRange(low, high *float64) string {
	switch {
	case low != nil && high != nil:
		return fmt.Sprintf("$%.0f-$%.0f", *low, *high)
	case high != nil:
		return fmt.Sprintf("up to $%.0f", *high)
	case low != nil:
		return fmt.Sprintf("from $%.0f", *low)
	}
	return "unknown"
}

func buildPrompt(candidates []Candidate) string {
	var lines []string
	for i, c := range candidates {
		category := c.Product.Category
		if category == "" {
			category = "unknown"
		}
		sources := make([]string, len(c.Sources))
		for j, s := range c.Sources {
			sources[j] = string(s)
		}
		firstSeen := "unknown"
		if !c.Product.FirstSeen.IsZero() {
			firstSeen = c.Product.FirstSeen.Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf(
			"%d. %s | category: %s | price: %s | suitability: %.1f | trend_shape: %.1f | "+
				"price_fit: %.1f | sentiment: %.1f | social_velocity: %.1f | platform_count: %d | "+
				"search_accel: %.1f | purchase_intent: %.1f | platforms: [%s] | first_seen: %s",
			i+1, c.Product.CanonicalName, category, priceRange(c.Product.PriceLow, c.Product.PriceHigh),
			c.Suitability, c.Score.TrendShape, c.Score.PriceFit, c.Score.Sentiment,
			c.Score.SocialVelocity, c.Score.Platforms, c.Score.SearchAccel, c.Score.PurchaseIntent,
			strings.Join(sources, ", "), firstSeen))
	}
	return strings.Join(lines, "\n")
}

// stripFence removes a surrounding markdown code block.
func stripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (a *LLMAnalyzer) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai status %d: %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (a *LLMAnalyzer) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      a.model,
		"max_tokens": 2048,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic status %d: %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	if len(result.Content) == 0 {
		return "", errors.New("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

// Close releases pooled connections.
func (a *LLMAnalyzer) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
