package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SelectionPolicy controls how the resolver picks among structurally
// matching rules. Catalogs are authored for first-match-in-declared-order
// semantics, so that is the default; AllMatches exists for analyses
// that must see every candidate.
type SelectionPolicy int

const (
	// FirstMatch returns the first rule in catalog order that matches.
	FirstMatch SelectionPolicy = iota

	// AllMatches returns every rule that matches, in catalog order.
	AllMatches
)

// NoMatchPolicy controls what an unmatched transaction does to a batch.
type NoMatchPolicy int

const (
	// Strict surfaces ErrNoMatchingRule and aborts the batch.
	Strict NoMatchPolicy = iota

	// Lenient counts the transaction with a zero fee.
	Lenient
)

// ParseNoMatchPolicy maps a config/API policy name to a NoMatchPolicy.
func ParseNoMatchPolicy(name string) (NoMatchPolicy, error) {
	switch name {
	case "", domain.PolicyStrict:
		return Strict, nil
	case domain.PolicyLenient:
		return Lenient, nil
	default:
		return Strict, fmt.Errorf("unknown no-match policy: %q", name)
	}
}

// Resolve returns the first rule in catalog order that matches the
// context, or ErrNoMatchingRule. Catalog order is stable, so repeated
// calls with the same catalog and context return the same rule.
func (e *Engine) Resolve(ectx *domain.EvaluationContext) (*domain.FeeRule, error) {
	for _, c := range e.snapshot() {
		if c.Matches(ectx) {
			return c.Rule, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", ErrNoMatchingRule, ectx.Transaction.ID)
}

// ResolveAll returns every matching rule in catalog order. An empty
// result is not an error here; analyses over all matches decide for
// themselves what zero candidates means.
func (e *Engine) ResolveAll(ectx *domain.EvaluationContext) []*domain.FeeRule {
	var matched []*domain.FeeRule
	for _, c := range e.snapshot() {
		if c.Matches(ectx) {
			matched = append(matched, c.Rule)
		}
	}
	return matched
}

// ResolveFee resolves the governing rule and computes the fee for the
// context's transaction amount.
func (e *Engine) ResolveFee(ectx *domain.EvaluationContext) (decimal.Decimal, *domain.FeeRule, error) {
	rule, err := e.Resolve(ectx)
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	return Fee(ectx.Transaction.Amount, rule), rule, nil
}
