package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
)

// Condition kinds. Anything not listed here never matches.
const (
	KindSpecificDate = "specificDate"
	KindWeather      = "weather"
	KindTemperature  = "temperature"
	KindDefault      = "default"
)

// Range bounds a feels-like temperature in whole °C. A nil bound is open on
// that side.
type Range struct {
	Min *int `json:"min"`
	Max *int `json:"max"`
}

// Condition is the predicate attached to a rule. Kind selects the variant;
// the remaining fields only apply to their own variant.
type Condition struct {
	Kind        string `json:"type"`
	Date        string `json:"date,omitempty"`
	WeatherMain string `json:"weatherMain,omitempty"`
	FeelsLike   *Range `json:"feelsLike,omitempty"`
}

type Rule struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Condition Condition `json:"conditions"`
	Priority  int       `json:"priority"`
}

// Catalog is one persona's ordered rule collection.
type Catalog struct {
	Persona string
	Rules   []Rule
}

var (
	//go:embed dy.json
	dyJSON []byte

	//go:embed busydog.json
	busydogJSON []byte

	// The two built-in persona voices.
	DY      = mustLoad("dy", dyJSON)
	Busydog = mustLoad("busydog", busydogJSON)
)

func mustLoad(persona string, raw []byte) Catalog {
	var file struct {
		Messages []Rule `json:"messages"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		panic(fmt.Sprintf("catalog %s: %v", persona, err))
	}
	return Catalog{Persona: persona, Rules: file.Messages}
}

// Pick flips an unweighted coin between the two built-in personas.
func Pick(rng *rand.Rand) Catalog {
	if rng.Intn(2) == 0 {
		return DY
	}
	return Busydog
}

func ByPersona(name string) (Catalog, bool) {
	switch name {
	case DY.Persona:
		return DY, true
	case Busydog.Persona:
		return Busydog, true
	}
	return Catalog{}, false
}
