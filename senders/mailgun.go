package senders

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/yeolmu/weatherping/lib/models"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) Send(ctx context.Context, sub *models.Subscription, payload Payload) error {
	if sub.Address == "" {
		return fmt.Errorf("subscription %s has no email address", sub.ID)
	}

	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport

	// Create message with empty body first.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, payload.Title, "", sub.Address)
	// SetHtml with the payload proper. This will assign the MIME type properly.
	message.SetHtml(fmt.Sprintf("<p>%s</p>", payload.Body))

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, id, err := mg.Send(ctx, message)
	if err != nil {
		return err
	}
	e.log.Sugar().Debugw("Sent email notification", "message_id", id)
	return nil
}
