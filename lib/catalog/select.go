package catalog

import (
	"math/rand"
	"time"
)

// FallbackMessage is returned when nothing in a catalog matches at all,
// including catalogs that carry no default rule.
const FallbackMessage = "Have a good day!"

// Select picks the text of one eligible rule: highest priority wins, ties
// are broken uniformly at random from rng.
func (c Catalog) Select(ctx Context, now time.Time, rng *rand.Rand) string {
	var matched []Rule
	for _, rule := range c.Rules {
		if rule.Condition.Matches(ctx, now) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return FallbackMessage
	}

	top := matched[0].Priority
	for _, rule := range matched[1:] {
		if rule.Priority > top {
			top = rule.Priority
		}
	}

	var tier []Rule
	for _, rule := range matched {
		if rule.Priority == top {
			tier = append(tier, rule)
		}
	}

	return tier[rng.Intn(len(tier))].Text
}
