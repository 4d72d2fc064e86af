// Package exposure implements category-aware position limits.
//
// A trader buying into many markets tagged with the same or related
// category (e.g. several markets on the same election, or the same
// sports league) carries correlated risk even though each individual
// market looks small. This package enforces a per-category cap and an
// aggregate cap across a caller-supplied grouping of correlated
// categories, generalizing the geographic-prefix correlation model
// used for H3 cells to arbitrary category strings.
package exposure

import (
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engineerr"
)

// Limiter enforces per-category and per-correlated-group exposure caps.
type Limiter struct {
	// MaxPerCategory is the maximum absolute locked exposure a single
	// account may hold in any one category.
	MaxPerCategory decimal.Decimal

	// MaxPerGroup is the maximum aggregate absolute exposure across all
	// categories that share a correlation group.
	MaxPerGroup decimal.Decimal

	// GroupOf maps a category to its correlation group. Categories
	// absent from this map are their own singleton group.
	GroupOf map[string]string
}

// New builds a limiter. A nil GroupOf means no cross-category
// correlation is enforced: every category is its own group, so
// MaxPerGroup applies to each category on its own, next to
// MaxPerCategory.
func New(maxPerCategory, maxPerGroup decimal.Decimal, groupOf map[string]string) *Limiter {
	if groupOf == nil {
		groupOf = map[string]string{}
	}
	return &Limiter{
		MaxPerCategory: maxPerCategory,
		MaxPerGroup:    maxPerGroup,
		GroupOf:        groupOf,
	}
}

func (l *Limiter) group(category string) string {
	if g, ok := l.GroupOf[category]; ok {
		return g
	}
	return category
}

// Check validates that locking an additional `delta` of exposure under
// `category` keeps the account within both limits, given its current
// locked exposure per category (existing).
func (l *Limiter) Check(existing map[string]decimal.Decimal, category string, delta decimal.Decimal) error {
	if l == nil {
		return nil
	}
	current := existing[category]
	newInCategory := current.Add(delta)
	if newInCategory.Abs().GreaterThan(l.MaxPerCategory) {
		return engineerr.New(engineerr.ExposureLimitExceeded,
			"category %q: %s exceeds per-category limit %s", category, newInCategory.Abs(), l.MaxPerCategory)
	}

	targetGroup := l.group(category)
	totalGroup := newInCategory.Abs()
	for cat, amt := range existing {
		if cat == category {
			continue
		}
		if l.group(cat) == targetGroup {
			totalGroup = totalGroup.Add(amt.Abs())
		}
	}
	if totalGroup.GreaterThan(l.MaxPerGroup) {
		return engineerr.New(engineerr.ExposureLimitExceeded,
			"group %q: %s exceeds correlated limit %s", targetGroup, totalGroup, l.MaxPerGroup)
	}
	return nil
}
