package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	return postChatWebhook(ctx, s.client, s.Name(), s.webhookURL, slackMessage(n))
}

func slackMessage(n *Notification) map[string]any {
	title := n.Title
	if n.URL != "" {
		title = fmt.Sprintf("<%s|%s>", n.URL, n.Title)
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: headline(n)}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf(
			"%s\n*Suitability:* %.1f | *Score:* %.1f | *Channel:* %s\n%s",
			title, n.Suitability, n.Score, n.TargetChannel, n.Body)}},
	}
	if len(n.Strengths) > 0 || len(n.Risks) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: "*Strengths*\n" + bullets(n.Strengths)},
			{Type: "mrkdwn", Text: "*Risks*\n" + bullets(n.Risks)},
		}})
	}
	if len(n.Sources) > 0 {
		blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{
			{Type: "mrkdwn", Text: "Seen on " + strings.Join(n.Sources, ", ")},
		}})
	}
	return map[string]any{"text": headline(n), "blocks": blocks}
}
