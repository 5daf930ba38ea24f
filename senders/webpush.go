package senders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/yeolmu/weatherping/lib/models"
)

type webpushSender struct {
	base
}

func (w *webpushSender) Send(ctx context.Context, sub *models.Subscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	timeout := time.Duration(w.cfg.Push.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      &http.Client{Transport: w.transport},
		Subscriber:      w.cfg.Push.VAPIDSubject,
		VAPIDPublicKey:  w.cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.Push.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		// The endpoint no longer exists; signal the caller to prune it.
		return ErrSubscriptionGone
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
