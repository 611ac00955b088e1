package fees

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ACIAlphabet is the fixed set of Authorization Characteristics
// Indicator values a transaction can carry.
var ACIAlphabet = []string{"A", "B", "C", "D", "E", "F", "G"}

// ScenarioObjective selects which end of the fee spread a sweep
// optimizes for.
type ScenarioObjective int

const (
	Minimize ScenarioObjective = iota
	Maximize
)

// ParseObjective maps an API objective name to a ScenarioObjective.
func ParseObjective(name string) (ScenarioObjective, error) {
	switch name {
	case "", "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	default:
		return Minimize, fmt.Errorf("unknown objective: %q", name)
	}
}

// SweepACI re-resolves the context under each candidate ACI and
// returns the fee per candidate. Candidates that match no rule are
// omitted from the result; if none match at all, ErrNoMatchingRule is
// returned. A nil candidate list sweeps the full alphabet.
func (e *Engine) SweepACI(ectx *domain.EvaluationContext, candidates []string) (map[string]decimal.Decimal, error) {
	if len(candidates) == 0 {
		candidates = ACIAlphabet
	}

	result := make(map[string]decimal.Decimal, len(candidates))
	for _, aci := range candidates {
		variant := *ectx.Transaction
		variant.ACI = aci

		vctx := *ectx
		vctx.Transaction = &variant

		rule, err := e.Resolve(&vctx)
		if err != nil {
			if errors.Is(err, ErrNoMatchingRule) {
				continue
			}
			return nil, err
		}
		result[aci] = Fee(variant.Amount, rule)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%w: no ACI candidate matched for transaction %s", ErrNoMatchingRule, ectx.Transaction.ID)
	}
	return result, nil
}

// Best picks the optimal candidate from a sweep result. Ties break to
// the lexically lowest candidate: iterating candidates in sorted order
// and replacing only on a strict improvement makes the earlier (lower)
// key win every draw.
func Best(feesByCandidate map[string]decimal.Decimal, objective ScenarioObjective) (string, decimal.Decimal, error) {
	if len(feesByCandidate) == 0 {
		return "", decimal.Decimal{}, fmt.Errorf("%w: empty scenario result", ErrNoMatchingRule)
	}

	keys := make([]string, 0, len(feesByCandidate))
	for k := range feesByCandidate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := keys[0]
	bestFee := feesByCandidate[best]
	for _, k := range keys[1:] {
		fee := feesByCandidate[k]
		better := fee.LessThan(bestFee)
		if objective == Maximize {
			better = fee.GreaterThan(bestFee)
		}
		if better {
			best, bestFee = k, fee
		}
	}
	return best, bestFee, nil
}
