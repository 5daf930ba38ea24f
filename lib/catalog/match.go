package catalog

import (
	"math"
	"time"
)

// Context is the weather snapshot a condition is evaluated against. The
// evaluation timestamp is passed alongside, not carried here.
type Context struct {
	FeelsLike   float64
	WeatherMain string
}

// Matches reports whether the condition is eligible under ctx at the given
// wall-clock time. Malformed conditions (missing date, missing temperature
// bounds, unrecognised kind) never match rather than erroring.
func (c Condition) Matches(ctx Context, now time.Time) bool {
	switch c.Kind {
	case KindSpecificDate:
		if c.Date == "" {
			return false
		}
		if len(c.Date) == len("2006-01-02") {
			// Full date with year, fires in that year only.
			return c.Date == now.Format("2006-01-02")
		}
		// "MM-DD" recurs every year.
		return c.Date == now.Format("01-02")

	case KindWeather:
		// Exact compare; any case normalisation is the caller's concern.
		return ctx.WeatherMain == c.WeatherMain

	case KindTemperature:
		if c.FeelsLike == nil {
			return false
		}
		// Half-degrees round toward +∞, so -2.5 compares as -2.
		feels := int(math.Floor(ctx.FeelsLike + 0.5))
		if c.FeelsLike.Min != nil && feels < *c.FeelsLike.Min {
			return false
		}
		if c.FeelsLike.Max != nil && feels > *c.FeelsLike.Max {
			return false
		}
		return true

	case KindDefault:
		return true
	}

	return false
}
