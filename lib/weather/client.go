package weather

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/sony/gobreaker"
	"github.com/yeolmu/weatherping/config"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Observation is the slice of a current-weather response that message
// selection cares about.
type Observation struct {
	FeelsLike float64
	Main      string
}

type Client struct {
	log       *zap.Logger
	transport http.RoundTripper
	apiKey    string
	baseURL   string
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
}

func NewClient(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		log:       log,
		transport: transport,
		apiKey:    cfg.OpenWeather.APIKey,
		baseURL:   defaultBaseURL,
		timeout:   time.Duration(cfg.OpenWeather.TimeoutSecs) * time.Second,
		breaker:   breaker,
	}
}

type currentWeatherResponse struct {
	Main struct {
		FeelsLike float64 `json:"feels_like"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

// Current fetches the live conditions at the given coordinates. Calls are
// timeout-bounded and routed through a circuit breaker so a flaky upstream
// fails fast instead of stalling a scheduling pass.
func (c *Client) Current(ctx context.Context, lat, lon float64) (Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var payload currentWeatherResponse
		err := requests.URL(c.baseURL).
			Param("lat", strconv.FormatFloat(lat, 'f', -1, 64)).
			Param("lon", strconv.FormatFloat(lon, 'f', -1, 64)).
			Param("appid", c.apiKey).
			Param("units", "metric").
			Transport(c.transport).
			ToJSON(&payload).
			Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return Observation{}, err
	}

	payload := result.(currentWeatherResponse)
	obs := Observation{FeelsLike: payload.Main.FeelsLike}
	if len(payload.Weather) > 0 {
		obs.Main = payload.Weather[0].Main
	}
	return obs, nil
}
