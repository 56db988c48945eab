package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord posts embeds to a Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Thumbnail   *discordImage  `json:"thumbnail,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// verdictColors tints embeds by verdict.
var verdictColors = map[string]int{
	"Strong":      0x2ECC71,
	"Moderate":    0xF1C40F,
	"Speculative": 0x95A5A6,
}

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{"embeds": []discordEmbed{discordMessage(n, time.Now())}}
	return postChatWebhook(ctx, d.client, d.Name(), d.webhookURL, payload)
}

func discordMessage(n *Notification, now time.Time) discordEmbed {
	embed := discordEmbed{
		Title: headline(n),
		Description: fmt.Sprintf("**Suitability:** %.1f | **Score:** %.1f | **Channel:** %s\n\n%s",
			n.Suitability, n.Score, n.TargetChannel, n.Body),
		URL:       n.URL,
		Color:     verdictColors[string(n.Verdict)],
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if len(n.Sources) > 0 {
		embed.Description += "\n\nSeen on " + strings.Join(n.Sources, ", ")
	}
	if len(n.Strengths) > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Strengths", Value: bullets(n.Strengths), Inline: true})
	}
	if len(n.Risks) > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Risks", Value: bullets(n.Risks), Inline: true})
	}
	if n.ImageURL != "" {
		embed.Thumbnail = &discordImage{URL: n.ImageURL}
	}
	return embed
}
