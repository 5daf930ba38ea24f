package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib"
	"github.com/yeolmu/weatherping/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc, validator.New()}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("weatherping", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", ctrl.listFavorites)
			r.Post("/", ctrl.createFavorite)
			r.Delete("/{id}", ctrl.deleteFavorite)
			r.Patch("/{id}/nickname", ctrl.updateNickname)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/subscribe", ctrl.subscribePush)
			r.Get("/preview", ctrl.previewMessage)

			r.Route("/settings", func(r chi.Router) {
				r.Post("/", ctrl.createSetting)
				r.Get("/favorite/{favorite_id}", ctrl.settingsByFavorite)
				r.Patch("/{id}", ctrl.updateSetting)
				r.Delete("/{id}", ctrl.deleteSetting)
			})
		})
	})

	return r
}

type controller struct {
	log      *zap.Logger
	svc      *lib.Service
	validate *validator.Validate
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) rejectErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, lib.ErrFavoriteLimit),
		errors.Is(err, lib.ErrDuplicateFavorite),
		errors.Is(err, lib.ErrUnknownPersona):
		ctrl.reject(w, http.StatusBadRequest, err)
	default:
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) bind(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return ctrl.validate.Struct(dst)
}

func (ctrl *controller) listFavorites(w http.ResponseWriter, r *http.Request) {
	favorites, err := ctrl.svc.ListFavorites(r.Context())
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, favorites)
}

type createFavoriteRequest struct {
	FullName string  `json:"fullName" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Nickname string  `json:"nickname"`
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon      float64 `json:"lon" validate:"gte=-180,lte=180"`
}

func (ctrl *controller) createFavorite(w http.ResponseWriter, r *http.Request) {
	var req createFavoriteRequest
	if err := ctrl.bind(r, &req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	favorite := &models.Favorite{
		FullName: req.FullName,
		Name:     req.Name,
		Nickname: req.Nickname,
		Lat:      req.Lat,
		Lon:      req.Lon,
	}
	if err := ctrl.svc.CreateFavorite(r.Context(), favorite); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, favorite)
}

func (ctrl *controller) deleteFavorite(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteFavorite(r.Context(), chi.URLParam(r, "id")); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"success": true})
}

type updateNicknameRequest struct {
	Nickname string `json:"nickname" validate:"max=50"`
}

func (ctrl *controller) updateNickname(w http.ResponseWriter, r *http.Request) {
	var req updateNicknameRequest
	if err := ctrl.bind(r, &req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	favorite, err := ctrl.svc.UpdateNickname(r.Context(), chi.URLParam(r, "id"), req.Nickname)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, favorite)
}

type subscribeRequest struct {
	Channel  string `json:"channel" validate:"omitempty,oneof=webpush email"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	Address   string `json:"address" validate:"omitempty,email"`
	UserAgent string `json:"userAgent"`
}

func (ctrl *controller) subscribePush(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := ctrl.bind(r, &req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	if req.Channel == "" {
		req.Channel = models.ChannelWebPush
	}
	switch req.Channel {
	case models.ChannelWebPush:
		if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
			ctrl.reject(w, http.StatusBadRequest, errors.New("endpoint and keys are required for webpush"))
			return
		}
	case models.ChannelEmail:
		if req.Address == "" {
			ctrl.reject(w, http.StatusBadRequest, errors.New("address is required for email"))
			return
		}
		// Email targets are deduplicated on the address.
		req.Endpoint = "mailto:" + req.Address
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	sub, err := ctrl.svc.SubscribePush(r.Context(), &models.Subscription{
		Channel:   req.Channel,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		Address:   req.Address,
		UserAgent: userAgent,
	})
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, sub)
}

type createSettingRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	FavoriteID     string `json:"favorite_id" validate:"required"`
	Enabled        *bool  `json:"enabled"`
	ScheduledTime  string `json:"scheduled_time" validate:"omitempty,datetime=15:04:05"`
	ScheduledDays  []int  `json:"scheduled_days" validate:"omitempty,dive,gte=0,lte=6"`
}

func (ctrl *controller) createSetting(w http.ResponseWriter, r *http.Request) {
	var req createSettingRequest
	if err := ctrl.bind(r, &req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	setting := &models.NotificationSetting{
		SubscriptionID: req.SubscriptionID,
		FavoriteID:     req.FavoriteID,
		Enabled:        enabled,
		ScheduledTime:  req.ScheduledTime,
	}
	setting.SetDays(req.ScheduledDays)

	if err := ctrl.svc.CreateSetting(r.Context(), setting); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, setting)
}

func (ctrl *controller) settingsByFavorite(w http.ResponseWriter, r *http.Request) {
	settings, err := ctrl.svc.SettingsByFavorite(r.Context(), chi.URLParam(r, "favorite_id"))
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, settings)
}

type updateSettingRequest struct {
	Enabled       *bool   `json:"enabled"`
	ScheduledTime *string `json:"scheduled_time" validate:"omitempty,datetime=15:04:05"`
	ScheduledDays []int   `json:"scheduled_days" validate:"omitempty,dive,gte=0,lte=6"`
}

func (ctrl *controller) updateSetting(w http.ResponseWriter, r *http.Request) {
	var req updateSettingRequest
	if err := ctrl.bind(r, &req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	setting, err := ctrl.svc.UpdateSetting(r.Context(), chi.URLParam(r, "id"), lib.SettingPatch{
		Enabled:       req.Enabled,
		ScheduledTime: req.ScheduledTime,
		ScheduledDays: req.ScheduledDays,
	})
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, setting)
}

func (ctrl *controller) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteSetting(r.Context(), chi.URLParam(r, "id")); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"success": true})
}

func (ctrl *controller) previewMessage(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		ctrl.reject(w, http.StatusBadRequest, errors.New("lat and lon query params are required"))
		return
	}

	text, err := ctrl.svc.PreviewMessage(r.Context(), lat, lon, r.URL.Query().Get("persona"))
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"message": text})
}
