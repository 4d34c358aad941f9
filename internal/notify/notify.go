// Package notify posts daemon alerts (auto-pause, retry exhaustion, rollback)
// to an external chat webhook, the way the teacher's reviewer integrations
// post structured summaries — here via slack-go/slack's incoming-webhook helper.
package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// Client posts plain-text alerts to a configured Slack incoming webhook.
// A zero-value Client (empty WebhookURL) is a safe no-op, so callers do not
// need to special-case "notifications disabled" at every call site.
type Client struct {
	WebhookURL string
}

// New returns a Client for the given webhook URL ("" disables posting).
func New(webhookURL string) *Client {
	return &Client{WebhookURL: webhookURL}
}

// Post sends text to the webhook. A missing URL is a silent no-op: alerting
// is best-effort and must never block or fail the poll loop (§7).
func (c *Client) Post(ctx context.Context, text string) error {
	if c == nil || c.WebhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{Text: text}
	return slack.PostWebhookContext(ctx, c.WebhookURL, msg)
}
