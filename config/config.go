package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"weatherping.sqlite"`
	Timezone       string `env:"TIMEZONE" envDefault:"Local"`

	OpenWeather struct {
		APIKey      string `env:"OPENWEATHER_API_KEY"`
		TimeoutSecs int    `env:"OPENWEATHER_TIMEOUT_SECS" envDefault:"10"`
	}
	Push struct {
		VAPIDSubject    string `env:"VAPID_SUBJECT"`
		VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
		VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
		TimeoutSecs     int    `env:"PUSH_TIMEOUT_SECS" envDefault:"10"`
	}
	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log   *zap.Logger
	creds map[string]string
	loc   *time.Location
}

func NewConfig(log *zap.Logger) *Config {
	godotenv.Load()

	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		cfg.log.Sugar().Panicf("failed to parse environment: %v", err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "development" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
		if cfg.Env == "development" {
			cfg.log.Sugar().Info("VAPID keys are not set, push delivery will fail until they are")
		} else {
			cfg.log.Sugar().Panic("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY envvars must be populated")
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		cfg.log.Sugar().Panicf("invalid TIMEZONE %q: %v", cfg.Timezone, err)
	}
	cfg.loc = loc

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

// Location is the wall clock that scheduled times are interpreted against.
func (cfg *Config) Location() *time.Location {
	return cfg.loc
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
