package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib/models"
	"github.com/yeolmu/weatherping/lib/weather"
	"github.com/yeolmu/weatherping/senders"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubWeatherTransport struct {
	body string
	err  error
}

func (t *stubWeatherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

type sentNotification struct {
	Endpoint string
	Payload  senders.Payload
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []sentNotification
	errFor map[string]error
}

func (s *recordingSender) Send(ctx context.Context, sub *models.Subscription, payload senders.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errFor[sub.Endpoint]; ok {
		return err
	}
	s.sent = append(s.sent, sentNotification{Endpoint: sub.Endpoint, Payload: payload})
	return nil
}

func (s *recordingSender) getSent() []sentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]sentNotification, len(s.sent))
	copy(cp, s.sent)
	return cp
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Favorite{},
		&models.Subscription{},
		&models.NotificationSetting{},
	))
	return db
}

func newTestEvaluator(t *testing.T, db *gorm.DB, transport http.RoundTripper, sender senders.Sender) *Evaluator {
	t.Helper()
	cfg := &config.Config{}
	cfg.OpenWeather.APIKey = "test-key"
	cfg.OpenWeather.TimeoutSecs = 5

	registry := senders.Registry{models.ChannelWebPush: sender}
	ev := New(zap.NewNop(), db, weather.NewClient(cfg, zap.NewNop(), transport), registry, time.UTC)
	ev.SetRand(rand.New(rand.NewSource(1)))
	return ev
}

func seedSetting(t *testing.T, db *gorm.DB, favorite *models.Favorite, endpoint string, setting *models.NotificationSetting) *models.NotificationSetting {
	t.Helper()
	if favorite.ID == "" {
		require.NoError(t, db.Create(favorite).Error)
	}
	sub := &models.Subscription{Endpoint: endpoint, P256dh: "p256dh", Auth: "auth"}
	require.NoError(t, db.Create(sub).Error)

	setting.FavoriteID = favorite.ID
	setting.SubscriptionID = sub.ID
	require.NoError(t, db.Create(setting).Error)
	return setting
}

const snowyWeather = `{"main":{"feels_like":-2},"weather":[{"main":"Snow"}]}`

// Delivery happens for an enabled setting whose time and day match, and the
// payload carries the nickname, icon and favorite id the client renders.
func TestRunOnceDeliversDueSetting(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	favorite := &models.Favorite{FullName: "Seoul Gangnam-gu", Name: "Gangnam-gu", Nickname: "Home", Lat: 37.49, Lon: 127.02}
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, favorite, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)

	sent := sender.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://push.example.com/sub-1", sent[0].Endpoint)
	assert.Equal(t, "Home", sent[0].Payload.Title)
	assert.Equal(t, "/icons/icon-192x192.png", sent[0].Payload.Icon)
	assert.Equal(t, "/", sent[0].Payload.Data.URL)
	assert.Equal(t, favorite.ID, sent[0].Payload.Data.FavoriteID)

	// Snow (priority 80) outranks the cold-weather rule in both personas.
	snowTexts := []string{
		"눈이 내리는 날이에요 ❄️ 길이 미끄러우니 조심하세요",
		"눈이다 멍!! ❄️ 뛰어놀고 싶다 멍",
	}
	assert.Contains(t, snowTexts, sent[0].Payload.Body)
}

func TestRunOnceTitleFallsBackToName(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Busan Haeundae-gu", Name: "Haeundae-gu"}, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)

	sent := sender.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Haeundae-gu", sent[0].Payload.Title)
}

func TestRunOnceSkipsDisabledSetting(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: false, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)
	assert.Empty(t, sender.getSent())
}

func TestRunOnceSkipsEmptyDays(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)
	assert.Empty(t, sender.getSent())
}

func TestRunOnceSkipsWrongDayAndTime(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)

	wrongDay := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	wrongDay.SetDays([]int{(int(now.Weekday()) + 1) % 7})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/sub-1", wrongDay)

	wrongTime := &models.NotificationSetting{Enabled: true, ScheduledTime: "08:30:00"}
	wrongTime.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Busan", Name: "Busan"}, "https://push.example.com/sub-2", wrongTime)

	ev.RunOnce(context.Background(), now)
	assert.Empty(t, sender.getSent())
}

func TestRunOncePrunesGoneSubscription(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{errFor: map[string]error{
		"https://push.example.com/dead": senders.ErrSubscriptionGone,
	}}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/dead", setting)

	ev.RunOnce(context.Background(), now)

	var subCount, settingCount int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&subCount).Error)
	require.NoError(t, db.Model(&models.NotificationSetting{}).Count(&settingCount).Error)
	assert.Zero(t, subCount, "gone subscription should be deleted")
	assert.Zero(t, settingCount, "settings of a gone subscription should be deleted")
}

func TestRunOnceRetainsSubscriptionOnOtherErrors(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{errFor: map[string]error{
		"https://push.example.com/flaky": errors.New("bad gateway"),
	}}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/flaky", setting)

	ev.RunOnce(context.Background(), now)

	var subCount int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&subCount).Error)
	assert.EqualValues(t, 1, subCount)
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{errFor: map[string]error{
		"https://push.example.com/broken": errors.New("boom"),
	}}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	days := []int{int(now.Weekday())}

	broken := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	broken.SetDays(days)
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/broken", broken)

	healthy := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	healthy.SetDays(days)
	seedSetting(t, db, &models.Favorite{FullName: "Busan", Name: "Busan"}, "https://push.example.com/healthy", healthy)

	ev.RunOnce(context.Background(), now)

	sent := sender.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://push.example.com/healthy", sent[0].Endpoint)
}

func TestRunOnceSkipsOnWeatherFailure(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{err: errors.New("connection refused")}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)

	assert.Empty(t, sender.getSent())

	// Provider failure is transient; the subscription stays for next tick.
	var subCount int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&subCount).Error)
	assert.EqualValues(t, 1, subCount)
}

func TestRunOnceDoesNotDoubleFireWithinBucket(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	setting := &models.NotificationSetting{Enabled: true, ScheduledTime: "07:30:00"}
	setting.SetDays([]int{int(now.Weekday())})
	seedSetting(t, db, &models.Favorite{FullName: "Seoul", Name: "Seoul"}, "https://push.example.com/sub-1", setting)

	ev.RunOnce(context.Background(), now)
	ev.RunOnce(context.Background(), now.Add(20*time.Second))

	assert.Len(t, sender.getSent(), 1)
}

// The cron wiring must come up cleanly; a rejected schedule panics at
// construction rather than silently never running.
func TestNewEvaluatorLifecycle(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("TIMEZONE", "UTC")

	cfg := config.NewConfig(zap.NewNop())
	db := newTestDB(t)
	registry := senders.Registry{models.ChannelWebPush: &recordingSender{}}
	wc := weather.NewClient(cfg, zap.NewNop(), &stubWeatherTransport{body: snowyWeather})

	lc := fxtest.NewLifecycle(t)
	ev := NewEvaluator(lc, cfg, zap.NewNop(), db, wc, registry)
	require.NotNil(t, ev)

	lc.RequireStart()
	lc.RequireStop()
}

func TestRunOnceSkipsUnknownChannel(t *testing.T) {
	db := newTestDB(t)
	sender := &recordingSender{}
	ev := newTestEvaluator(t, db, &stubWeatherTransport{body: snowyWeather}, sender)

	now := time.Date(2026, 6, 17, 7, 30, 0, 0, time.UTC)
	favorite := &models.Favorite{FullName: "Seoul", Name: "Seoul"}
	require.NoError(t, db.Create(favorite).Error)

	sub := &models.Subscription{Channel: "carrier-pigeon", Endpoint: "https://push.example.com/sub-1"}
	require.NoError(t, db.Create(sub).Error)

	setting := &models.NotificationSetting{
		FavoriteID:     favorite.ID,
		SubscriptionID: sub.ID,
		Enabled:        true,
		ScheduledTime:  "07:30:00",
	}
	setting.SetDays([]int{int(now.Weekday())})
	require.NoError(t, db.Create(setting).Error)

	ev.RunOnce(context.Background(), now)
	assert.Empty(t, sender.getSent())
}
