package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"permitwatch/pkg/config"
	"permitwatch/pkg/slots"
)

// EmailChannel delivers slot alerts through the SendGrid API
type EmailChannel struct {
	client    *sendgrid.Client
	from      string
	recipient string
}

// NewEmailChannel builds the email channel from its config
func NewEmailChannel(cfg config.EmailChannel) *EmailChannel {
	return &EmailChannel{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		from:      cfg.From,
		recipient: cfg.Recipient,
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Send mails the batch as a plain-text summary
func (c *EmailChannel) Send(ctx context.Context, newSlots []slots.Slot) error {
	subject := fmt.Sprintf("🚗 %d new exam slot(s) available", len(newSlots))

	var body strings.Builder
	body.WriteString("New exam slots just opened:\n\n")
	for _, line := range slots.Summaries(newSlots) {
		body.WriteString("• " + line + "\n")
	}
	fmt.Fprintf(&body, "\n📅 Checked at %s", time.Now().Format("02/01/2006 15:04"))

	from := mail.NewEmail("permitwatch", c.from)
	to := mail.NewEmail("", c.recipient)
	message := mail.NewSingleEmail(from, subject, to, body.String(), "")

	resp, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email rejected with status %d", resp.StatusCode)
	}
	return nil
}
