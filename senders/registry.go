package senders

import (
	"context"
	"errors"
	"net/http"

	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib/models"
	"go.uber.org/zap"
)

// ErrSubscriptionGone means the transport reported the subscriber is
// permanently unreachable; the caller should prune the subscription.
var ErrSubscriptionGone = errors.New("subscription gone")

// Payload is the notification body delivered to clients. The field names are
// a compatibility contract with the service worker that renders them.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon"`
	Data  PayloadData `json:"data"`
}

type PayloadData struct {
	URL        string `json:"url"`
	FavoriteID string `json:"favoriteId,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, sub *models.Subscription, payload Payload) error
}

type Registry map[string]Sender

func NewSenderRegistry(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return Registry{
		models.ChannelWebPush: &webpushSender{base},
		models.ChannelEmail:   &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
