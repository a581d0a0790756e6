// Package notify implements budget.Notifier over outbound webhooks: a
// Slack-compatible payload shape, fire-and-forget goroutine dispatch, and
// best-effort logging on failure.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts budget gate crossings to a configured webhook URL.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewWebhookNotifier builds a notifier posting to webhookURL. An empty URL
// yields a notifier whose NotifyBudgetWarning is a no-op.
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyBudgetWarning implements budget.Notifier.
func (n *WebhookNotifier) NotifyBudgetWarning(instanceID, day string, utilisation float64) error {
	if n.webhookURL == "" {
		return nil
	}
	go n.send(instanceID, day, utilisation)
	return nil
}

func (n *WebhookNotifier) send(instanceID, day string, utilisation float64) {
	payload := map[string]any{
		"event_type":  "budget_notify",
		"instance_id": instanceID,
		"day":         day,
		"utilisation": utilisation,
		"timestamp":   time.Now().Format(time.RFC3339),
	}

	if strings.Contains(n.webhookURL, "slack.com") {
		text := fmt.Sprintf(":warning: *Budget at %.0f%%*\n*Instance:* `%s`\n*Day:* %s\n", utilisation*100, instanceID, day)
		payload = map[string]any{
			"attachments": []map[string]any{
				{"color": "#FFA500", "text": text, "ts": time.Now().Unix()},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal budget webhook payload", "err", err)
		return
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to send budget webhook", "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("budget webhook returned non-2xx", "status", resp.StatusCode)
	}
}
