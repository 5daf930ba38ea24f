package main

import (
	"net/http"
	"os"
	"time"

	"github.com/yeolmu/weatherping/app"
	"github.com/yeolmu/weatherping/config"
	"github.com/yeolmu/weatherping/lib"
	"github.com/yeolmu/weatherping/lib/evaluator"
	"github.com/yeolmu/weatherping/lib/weather"
	"github.com/yeolmu/weatherping/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(weather.NewClient),
		fx.Provide(lib.NewService),
		fx.Provide(evaluator.NewEvaluator),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
		fx.Invoke(func(*evaluator.Evaluator) {}),
	).Run()
}
