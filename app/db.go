package app

import (
	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func NewDatabase(cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Sugar().Panicw("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	db.AutoMigrate(
		&models.Favorite{},
		&models.Subscription{},
		&models.NotificationSetting{},
	)
	return db
}
