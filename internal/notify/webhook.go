package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"permitwatch/pkg/config"
	"permitwatch/pkg/slots"
)

// WebhookChannel posts slot alerts to a generic JSON webhook
// (Discord/Slack compatible payload)
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds the webhook channel from its config
func NewWebhookChannel(cfg config.WebhookChannel) *WebhookChannel {
	return &WebhookChannel{
		url:    cfg.URL,
		client: &http.Client{},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []webhookField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type webhookPayload struct {
	Content string         `json:"content"`
	Embeds  []webhookEmbed `json:"embeds"`
}

// Send posts the batch as an embed with one field per slot
func (c *WebhookChannel) Send(ctx context.Context, newSlots []slots.Slot) error {
	if c.url == "" {
		return fmt.Errorf("webhook URL is not configured")
	}

	fields := make([]webhookField, len(newSlots))
	for i, s := range newSlots {
		fields[i] = webhookField{
			Name:  fmt.Sprintf("%s at %s", s.Date, s.Hour),
			Value: fmt.Sprintf("%s - %d place(s)", s.Location, s.Places),
		}
	}

	payload := webhookPayload{
		Content: fmt.Sprintf("🚗 %d new exam slot(s) available!", len(newSlots)),
		Embeds: []webhookEmbed{{
			Title:     "Exam slots open",
			Color:     3066993,
			Fields:    fields,
			Timestamp: time.Now().Format(time.RFC3339),
		}},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}
