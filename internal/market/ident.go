package market

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identRegex matches: MKT-{category}-{slug}-{sequence}
// Example: MKT-ELECTIONS-senate-oh-2026-0042
var identRegex = regexp.MustCompile(`^MKT-([A-Z0-9]+)-([a-z0-9-]+)-(\d+)$`)

var (
	// ErrInvalidIdent is returned when a market identifier does not
	// match the MKT-{category}-{slug}-{sequence} format.
	ErrInvalidIdent = errors.New("market: invalid identifier format")
)

// Ident is a parsed human-readable market identifier, distinct from
// the engine-internal MarketID and ExternalID.
type Ident struct {
	Raw      string
	Category string
	Slug     string
	Sequence int64
}

// ParseIdent parses a market identifier of the form
// MKT-{CATEGORY}-{slug}-{sequence}.
func ParseIdent(ident string) (*Ident, error) {
	matches := identRegex.FindStringSubmatch(ident)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected MKT-{CATEGORY}-{slug}-{sequence})", ErrInvalidIdent, ident)
	}
	seq, err := strconv.ParseInt(matches[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %s", ErrInvalidIdent, matches[3])
	}
	return &Ident{
		Raw:      ident,
		Category: matches[1],
		Slug:     matches[2],
		Sequence: seq,
	}, nil
}

// FormatIdent builds a canonical identifier from its parts. category is
// upper-cased; question is slugified into lowercase hyphen-words and
// truncated to keep identifiers short.
func FormatIdent(category, question string, sequence int64) string {
	return fmt.Sprintf("MKT-%s-%s-%04d", strings.ToUpper(category), slugify(question), sequence)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 24 {
		out = strings.TrimRight(out[:24], "-")
	}
	return out
}
