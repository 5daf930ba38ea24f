package evaluator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib/catalog"
	"github.com/yeolmu/weatherping/lib/models"
	"github.com/yeolmu/weatherping/lib/weather"
	"github.com/yeolmu/weatherping/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notificationIcon = "/icons/icon-192x192.png"

// Evaluator runs the scheduling passes: each minute it finds the settings due
// in the current wall-clock bucket and pushes one contextual message per
// setting. Failures are isolated per setting; a dead push endpoint gets its
// subscription pruned.
type Evaluator struct {
	log     *zap.Logger
	db      *gorm.DB
	weather *weather.Client
	senders senders.Registry
	loc     *time.Location
	rng     *rand.Rand

	// Guards against double-firing when a pass re-runs inside one bucket.
	lastBucket string
	fired      map[string]struct{}
}

// New wires an evaluator without scheduling it; NewEvaluator hooks it to the
// cron loop for the fx app.
func New(log *zap.Logger, db *gorm.DB, wc *weather.Client, registry senders.Registry, loc *time.Location) *Evaluator {
	return &Evaluator{
		log:     log,
		db:      db,
		weather: wc,
		senders: registry,
		loc:     loc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		fired:   map[string]struct{}{},
	}
}

func NewEvaluator(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB, wc *weather.Client, registry senders.Registry) *Evaluator {
	ev := New(log, db, wc, registry, cfg.Location())

	// Every minute rather than hourly, so settings at any HH:MM fire within
	// their scheduled minute.
	scheduler := gocron.NewScheduler(cfg.Location())
	if _, err := scheduler.Cron("* * * * *").Do(func() {
		ev.RunOnce(context.Background(), time.Now().In(ev.loc))
	}); err != nil {
		log.Sugar().Panicw("Failed to schedule evaluator", "err", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.StartAsync()
			log.Info("Evaluator started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			log.Info("Evaluator stopped")
			return nil
		},
	})

	return ev
}

// SetRand replaces the random source, for deterministic tests.
func (ev *Evaluator) SetRand(rng *rand.Rand) {
	ev.rng = rng
}

// RunOnce executes a single scheduling pass for the given wall-clock time.
func (ev *Evaluator) RunOnce(ctx context.Context, now time.Time) {
	timeOfDay := now.Format("15:04") + ":00"
	day := int(now.Weekday())

	if bucket := now.Format("2006-01-02 15:04"); bucket != ev.lastBucket {
		ev.lastBucket = bucket
		ev.fired = map[string]struct{}{}
	}

	var due models.NotificationSettings
	tx := ev.db.WithContext(ctx).
		Preload("Favorite").
		Preload("Subscription").
		Where("enabled = ?", true).
		Where("scheduled_time = ?", timeOfDay).
		Where("scheduled_days <> ''").
		Find(&due)
	if err := tx.Error; err != nil {
		ev.log.Sugar().Errorw("Failed to load notification settings", "err", err)
		return
	}

	// Scheduled days are stored serialized, so weekday membership is
	// filtered here rather than in the query.
	var today models.NotificationSettings
	for _, setting := range due {
		if setting.FiresOn(day) {
			today = append(today, setting)
		}
	}

	if len(today) == 0 {
		ev.log.Sugar().Debugf("Nothing due at %s (day %d)", timeOfDay, day)
		return
	}

	ev.log.Sugar().Infof("Delivering %d notifications due at %s (day %d)", len(today), timeOfDay, day)
	for i := range today {
		ev.deliver(ctx, &today[i], now)
	}
}

func (ev *Evaluator) deliver(ctx context.Context, setting *models.NotificationSetting, now time.Time) {
	if _, done := ev.fired[setting.ID]; done {
		return
	}
	ev.fired[setting.ID] = struct{}{}

	obs, err := ev.weather.Current(ctx, setting.Favorite.Lat, setting.Favorite.Lon)
	if err != nil {
		ev.log.Sugar().Errorw("Weather fetch failed",
			"setting_id", setting.ID, "favorite", setting.Favorite.Name, "err", err)
		return
	}

	cat := catalog.Pick(ev.rng)
	text := cat.Select(catalog.Context{
		FeelsLike:   obs.FeelsLike,
		WeatherMain: obs.Main,
	}, now, ev.rng)

	payload := senders.Payload{
		Title: setting.Favorite.Title(),
		Body:  text,
		Icon:  notificationIcon,
		Data:  senders.PayloadData{URL: "/", FavoriteID: setting.FavoriteID},
	}

	sender, ok := ev.senders[setting.Subscription.Channel]
	if !ok {
		ev.log.Sugar().Errorw("No sender for channel",
			"setting_id", setting.ID, "channel", setting.Subscription.Channel)
		return
	}

	err = sender.Send(ctx, &setting.Subscription, payload)
	switch {
	case errors.Is(err, senders.ErrSubscriptionGone):
		ev.log.Sugar().Infow("Pruning expired subscription",
			"subscription_id", setting.SubscriptionID, "endpoint", setting.Subscription.Endpoint)
		ev.prune(ctx, setting.SubscriptionID)

	case err != nil:
		ev.log.Sugar().Errorw("Notification delivery failed",
			"setting_id", setting.ID, "favorite", setting.Favorite.Name, "err", err)

	default:
		ev.log.Sugar().Infof("Delivered %q (%s) to %s", text, cat.Persona, setting.Favorite.Name)
	}
}

// prune removes a dead subscription and its settings. Deleting a row that a
// user request already removed affects nothing, which is fine.
func (ev *Evaluator) prune(ctx context.Context, subscriptionID string) {
	tx := ev.db.WithContext(ctx).Delete(&models.NotificationSetting{}, "subscription_id = ?", subscriptionID)
	if err := tx.Error; err != nil {
		ev.log.Sugar().Errorw("Failed to delete settings of dead subscription",
			"subscription_id", subscriptionID, "err", err)
		return
	}
	tx = ev.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", subscriptionID)
	if err := tx.Error; err != nil {
		ev.log.Sugar().Errorw("Failed to delete dead subscription",
			"subscription_id", subscriptionID, "err", err)
	}
}
