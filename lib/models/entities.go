package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Delivery channels recognised by the sender registry.
const (
	ChannelWebPush = "webpush"
	ChannelEmail   = "email"
)

type Favorite struct {
	ID           string `gorm:"primaryKey"`
	FullName     string `gorm:"uniqueIndex"`
	Name         string
	Nickname     string
	Lat          float64
	Lon          float64
	DisplayOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (f *Favorite) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Title is the notification headline; the user's nickname wins when set.
func (f *Favorite) Title() string {
	if f.Nickname != "" {
		return f.Nickname
	}
	return f.Name
}

type Favorites []Favorite

// Subscription holds the opaque transport credentials of one delivery target.
// Webpush rows carry endpoint/p256dh/auth, email rows carry an address.
type Subscription struct {
	ID        string `gorm:"primaryKey"`
	Channel   string
	Endpoint  string `gorm:"uniqueIndex"`
	P256dh    string
	Auth      string
	Address   string
	UserAgent string
	CreatedAt time.Time
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Channel == "" {
		s.Channel = ChannelWebPush
	}
	return nil
}

// NotificationSetting schedules contextual messages for one favorite on one
// subscription. ScheduledTime is local wall-clock "HH:MM:SS"; ScheduledDays
// is a comma-joined set of weekday numbers (0 = Sunday). A disabled setting
// or one with no days never fires.
type NotificationSetting struct {
	ID             string `gorm:"primaryKey"`
	SubscriptionID string `gorm:"index"`
	FavoriteID     string `gorm:"index"`
	Enabled        bool
	ScheduledTime  string
	ScheduledDays  string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Favorite     Favorite
	Subscription Subscription
}

func (n *NotificationSetting) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// Days decodes ScheduledDays. Malformed entries are skipped.
func (n *NotificationSetting) Days() []int {
	if n.ScheduledDays == "" {
		return nil
	}
	var days []int
	for _, part := range strings.Split(n.ScheduledDays, ",") {
		day, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || day < 0 || day > 6 {
			continue
		}
		days = append(days, day)
	}
	return days
}

func (n *NotificationSetting) SetDays(days []int) {
	parts := make([]string, 0, len(days))
	for _, day := range days {
		parts = append(parts, strconv.Itoa(day))
	}
	n.ScheduledDays = strings.Join(parts, ",")
}

func (n *NotificationSetting) FiresOn(day int) bool {
	for _, d := range n.Days() {
		if d == day {
			return true
		}
	}
	return false
}

type NotificationSettings []NotificationSetting
