package lib

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib/catalog"
	"github.com/yeolmu/weatherping/lib/models"
	"github.com/yeolmu/weatherping/lib/weather"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxFavorites = 6

var (
	ErrFavoriteLimit     = fmt.Errorf("favorites are capped at %d", maxFavorites)
	ErrDuplicateFavorite = errors.New("location is already a favorite")
	ErrUnknownPersona    = errors.New("unknown persona")
)

type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	weather *weather.Client
}

func NewService(cfg *config.Config, log *zap.Logger, db *gorm.DB, weather *weather.Client) *Service {
	return &Service{cfg, log, db, weather}
}

func (svc *Service) ListFavorites(ctx context.Context) (models.Favorites, error) {
	var favorites models.Favorites
	tx := svc.db.WithContext(ctx).Order("created_at desc").Find(&favorites)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return favorites, nil
}

func (svc *Service) CreateFavorite(ctx context.Context, favorite *models.Favorite) error {
	var count int64
	tx := svc.db.WithContext(ctx).Model(&models.Favorite{}).Count(&count)
	if err := tx.Error; err != nil {
		return err
	}
	if count >= maxFavorites {
		return ErrFavoriteLimit
	}

	tx = svc.db.WithContext(ctx).
		Model(&models.Favorite{}).
		Where("full_name = ?", favorite.FullName).
		Count(&count)
	if err := tx.Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateFavorite
	}

	tx = svc.db.WithContext(ctx).Create(favorite)
	if err := tx.Error; err != nil {
		return err
	}
	svc.log.Sugar().Infof("Created favorite %s (%s)", favorite.ID, favorite.FullName)
	return nil
}

func (svc *Service) DeleteFavorite(ctx context.Context, id string) error {
	// Settings pointing at the favorite go with it.
	tx := svc.db.WithContext(ctx).Delete(&models.NotificationSetting{}, "favorite_id = ?", id)
	if err := tx.Error; err != nil {
		return err
	}
	tx = svc.db.WithContext(ctx).Delete(&models.Favorite{}, "id = ?", id)
	return tx.Error
}

func (svc *Service) UpdateNickname(ctx context.Context, id, nickname string) (*models.Favorite, error) {
	favorite := &models.Favorite{}
	tx := svc.db.WithContext(ctx).Where("id = ?", id).First(favorite)
	if err := tx.Error; err != nil {
		return nil, err
	}

	favorite.Nickname = nickname
	tx = svc.db.WithContext(ctx).Save(favorite)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return favorite, nil
}

// SubscribePush registers a delivery target. Subscribing the same endpoint
// twice returns the existing row.
func (svc *Service) SubscribePush(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	existing := &models.Subscription{}
	tx := svc.db.WithContext(ctx).Where("endpoint = ?", sub.Endpoint).First(existing)
	if err := tx.Error; err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tx = svc.db.WithContext(ctx).Create(sub)
	if err := tx.Error; err != nil {
		return nil, err
	}
	svc.log.Sugar().Infof("Created %s subscription %s", sub.Channel, sub.ID)
	return sub, nil
}

// DeleteSubscription removes a delivery target and its settings. Deleting an
// already-deleted subscription is a no-op.
func (svc *Service) DeleteSubscription(ctx context.Context, id string) error {
	tx := svc.db.WithContext(ctx).Delete(&models.NotificationSetting{}, "subscription_id = ?", id)
	if err := tx.Error; err != nil {
		return err
	}
	tx = svc.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", id)
	return tx.Error
}

func (svc *Service) CreateSetting(ctx context.Context, setting *models.NotificationSetting) error {
	tx := svc.db.WithContext(ctx).Omit(clause.Associations).Create(setting)
	if err := tx.Error; err != nil {
		return err
	}
	svc.log.Sugar().Infof(
		"Created notification setting %s (favorite %s at %s on days [%s])",
		setting.ID, setting.FavoriteID, setting.ScheduledTime, setting.ScheduledDays,
	)
	return nil
}

func (svc *Service) SettingsByFavorite(ctx context.Context, favoriteID string) (models.NotificationSettings, error) {
	var settings models.NotificationSettings
	tx := svc.db.WithContext(ctx).Where("favorite_id = ?", favoriteID).Find(&settings)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// SettingPatch carries a partial update; nil fields are left untouched.
type SettingPatch struct {
	Enabled       *bool
	ScheduledTime *string
	ScheduledDays []int
}

func (svc *Service) UpdateSetting(ctx context.Context, id string, patch SettingPatch) (*models.NotificationSetting, error) {
	setting := &models.NotificationSetting{}
	tx := svc.db.WithContext(ctx).Where("id = ?", id).First(setting)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		setting.Enabled = *patch.Enabled
	}
	if patch.ScheduledTime != nil {
		setting.ScheduledTime = *patch.ScheduledTime
	}
	if patch.ScheduledDays != nil {
		setting.SetDays(patch.ScheduledDays)
	}

	tx = svc.db.WithContext(ctx).Omit(clause.Associations).Save(setting)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return setting, nil
}

func (svc *Service) DeleteSetting(ctx context.Context, id string) error {
	tx := svc.db.WithContext(ctx).Delete(&models.NotificationSetting{}, "id = ?", id)
	return tx.Error
}

// PreviewMessage runs the selection engine against live weather without
// dispatching anything. An empty persona means a coin flip, as delivery does.
func (svc *Service) PreviewMessage(ctx context.Context, lat, lon float64, persona string) (string, error) {
	obs, err := svc.weather.Current(ctx, lat, lon)
	if err != nil {
		return "", err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	cat := catalog.Pick(rng)
	if persona != "" {
		var ok bool
		if cat, ok = catalog.ByPersona(persona); !ok {
			return "", ErrUnknownPersona
		}
	}

	now := time.Now().In(svc.cfg.Location())
	return cat.Select(catalog.Context{FeelsLike: obs.FeelsLike, WeatherMain: obs.Main}, now, rng), nil
}
