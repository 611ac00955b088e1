package criterion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Interval is a numeric range with optional open ends. A nil bound is
// unbounded. Hyphen ranges ("100k-1m") are closed on both ends;
// comparison ranges (">5", "<3") exclude the bound itself.
type Interval struct {
	Min          *decimal.Decimal
	Max          *decimal.Decimal
	MinExclusive bool
	MaxExclusive bool
}

// Contains reports whether x lies inside the interval.
func (iv Interval) Contains(x decimal.Decimal) bool {
	if iv.Min != nil {
		cmp := x.Cmp(*iv.Min)
		if cmp < 0 || (cmp == 0 && iv.MinExclusive) {
			return false
		}
	}
	if iv.Max != nil {
		cmp := x.Cmp(*iv.Max)
		if cmp > 0 || (cmp == 0 && iv.MaxExclusive) {
			return false
		}
	}
	return true
}

// Range is a parsed numeric-range criterion. A nil or empty raw value
// parses to a wildcard that matches every context value.
type Range struct {
	wildcard bool
	interval Interval
}

// Wildcard reports whether the criterion matches unconditionally.
func (r Range) Wildcard() bool {
	return r.wildcard
}

// Interval returns the parsed interval for non-wildcard ranges.
func (r Range) Interval() Interval {
	return r.interval
}

// Matches reports whether x satisfies the range criterion.
func (r Range) Matches(x decimal.Decimal) bool {
	if r.wildcard {
		return true
	}
	return r.interval.Contains(x)
}

// ParseRange parses the catalog's range mini-language:
//
//	"A-B"   closed interval [A, B]
//	">A"    open lower bound (A, +inf)
//	"<A"    open upper bound (-inf, A)
//	"A"     degenerate interval [A, A]
//
// Each bound may carry a multiplier suffix "k" (x1000) or "m"
// (x1000000) and/or a trailing "%" dividing the number by 100.
// A nil or blank value is a wildcard.
func ParseRange(raw *string) (Range, error) {
	if raw == nil {
		return Range{wildcard: true}, nil
	}
	s := strings.ToLower(strings.TrimSpace(*raw))
	if s == "" {
		return Range{wildcard: true}, nil
	}

	switch {
	case strings.HasPrefix(s, ">"):
		min, err := parseBound(s[1:])
		if err != nil {
			return Range{}, err
		}
		return Range{interval: Interval{Min: &min, MinExclusive: true}}, nil

	case strings.HasPrefix(s, "<"):
		max, err := parseBound(s[1:])
		if err != nil {
			return Range{}, err
		}
		return Range{interval: Interval{Max: &max, MaxExclusive: true}}, nil
	}

	if lo, hi, ok := strings.Cut(s, "-"); ok {
		min, err := parseBound(lo)
		if err != nil {
			return Range{}, err
		}
		max, err := parseBound(hi)
		if err != nil {
			return Range{}, err
		}
		if min.GreaterThan(max) {
			return Range{}, fmt.Errorf("%w: inverted range %q", ErrMalformed, s)
		}
		return Range{interval: Interval{Min: &min, Max: &max}}, nil
	}

	v, err := parseBound(s)
	if err != nil {
		return Range{}, err
	}
	return Range{interval: Interval{Min: &v, Max: &v}}, nil
}

// parseBound parses one bound of a range expression. The "%" suffix is
// stripped and remembered before the "k"/"m" check so a percent sign
// can never be mistaken for a multiplier.
func parseBound(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)

	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	shift := int32(0)
	switch {
	case strings.HasSuffix(s, "k"):
		s = strings.TrimSuffix(s, "k")
		shift = 3
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
		shift = 6
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	if shift != 0 {
		d = d.Shift(shift)
	}
	if percent {
		d = d.Shift(-2)
	}
	return d, nil
}
