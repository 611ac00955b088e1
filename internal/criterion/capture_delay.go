package criterion

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Capture-delay tokens that match by string equality rather than as
// day counts.
const (
	DelayImmediate = "immediate"
	DelayManual    = "manual"
)

// CaptureDelay matches a merchant's capture-delay setting, which is
// either a categorical token ("immediate", "manual") or a day count
// ("7"). Rule values use the same tokens or a numeric range ("<3",
// "3-5", ">5"). Tokens only ever match tokens and ranges only ever
// match day counts; "manual" never satisfies ">5".
type CaptureDelay struct {
	wildcard bool
	token    string
	rng      Range
	numeric  bool
}

// ParseCaptureDelay parses a rule's capture-delay criterion. A nil or
// blank value is a wildcard.
func ParseCaptureDelay(raw *string) (CaptureDelay, error) {
	if raw == nil {
		return CaptureDelay{wildcard: true}, nil
	}
	s := strings.ToLower(strings.TrimSpace(*raw))
	if s == "" {
		return CaptureDelay{wildcard: true}, nil
	}

	if s == DelayImmediate || s == DelayManual {
		return CaptureDelay{token: s}, nil
	}

	rng, err := ParseRange(&s)
	if err != nil {
		return CaptureDelay{}, err
	}
	return CaptureDelay{rng: rng, numeric: true}, nil
}

// Matches reports whether the merchant's capture-delay value satisfies
// the criterion.
func (c CaptureDelay) Matches(merchantValue string) bool {
	if c.wildcard {
		return true
	}

	v := strings.ToLower(strings.TrimSpace(merchantValue))
	if !c.numeric {
		return v == c.token
	}

	// Numeric-range rule: categorical merchant tokens never qualify.
	days, err := decimal.NewFromString(v)
	if err != nil {
		return false
	}
	return c.rng.Matches(days)
}
