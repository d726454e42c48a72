package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const defaultTimeout = 10 * time.Second

// Slack posts messages to a Slack incoming webhook as Block Kit blocks.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a Slack notifier. A non-positive timeout uses the
// default.
func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Slack{client: &http.Client{Timeout: timeout}, webhookURL: webhookURL}
}

// Name implements Notifier.
func (s *Slack) Name() string { return "slack" }

// Send implements Notifier.
func (s *Slack) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(slackPayload(msg))
	if err != nil {
		return eris.Wrap(err, "slack: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "slack: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "slack: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resilience.StatusError("slack", resp.StatusCode, body)
	}
	return nil
}

func slackPayload(msg *Message) map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": msg.Title},
		},
	}
	if msg.Text != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": msg.Text},
		})
	}
	if len(msg.Fields) > 0 {
		// Slack caps a section at 10 fields.
		var fields []map[string]any
		for i, f := range msg.Fields {
			if i == 10 {
				break
			}
			fields = append(fields, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n%s", f.Label, f.Value),
			})
		}
		blocks = append(blocks, map[string]any{"type": "section", "fields": fields})
	}
	return map[string]any{
		"text":   strings.TrimSpace(msg.Title + " " + msg.Text),
		"blocks": blocks,
	}
}
