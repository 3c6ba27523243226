package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"permitwatch/pkg/config"
	"permitwatch/pkg/slots"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramChannel pushes slot alerts through the Telegram bot API
type TelegramChannel struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel builds the Telegram channel from its config
func NewTelegramChannel(cfg config.TelegramChannel) *TelegramChannel {
	return &TelegramChannel{
		baseURL:  telegramAPIURL,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts the batch as one Markdown message
func (c *TelegramChannel) Send(ctx context.Context, newSlots []slots.Slot) error {
	if c.botToken == "" || c.chatID == "" {
		return fmt.Errorf("telegram configuration is incomplete")
	}

	text := fmt.Sprintf("🚗 *%d new exam slot(s) available!*\n\n", len(newSlots))
	for _, s := range newSlots {
		text += fmt.Sprintf("📅 %s at %s\n📍 %s\n👥 %d place(s)\n\n", s.Date, s.Hour, s.Location, s.Places)
	}

	payload := telegramMessage{ChatID: c.chatID, Text: text, ParseMode: "Markdown"}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("message failed with status: %d", resp.StatusCode)
	}
	return nil
}
