package fees

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/criterion"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// BuildContext assembles the evaluation context for one transaction:
// its dynamic fields, its merchant's static profile and the aggregate
// for its merchant-month. A missing profile is a hard error; a missing
// aggregate entry means the merchant-month had no volume and the zero
// aggregate applies.
func BuildContext(tx *domain.Transaction, profiles map[string]*domain.MerchantProfile, aggregates map[domain.MonthKey]domain.MonthlyAggregate) (*domain.EvaluationContext, error) {
	profile, ok := profiles[tx.MerchantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMerchant, tx.MerchantID)
	}

	return &domain.EvaluationContext{
		Transaction:  tx,
		Profile:      profile,
		Aggregate:    aggregates[tx.MonthKey()],
		Intracountry: tx.Intracountry(),
	}, nil
}

// Matches reports whether the rule applies to the context. Criteria
// are conjunctive, so the check short-circuits on the first failure;
// cheap equality checks run before set and range lookups. Ordering
// affects speed only, never the outcome.
func (r *CompiledRule) Matches(ectx *domain.EvaluationContext) bool {
	tx := ectx.Transaction

	if r.Rule.CardScheme != tx.CardScheme {
		return false
	}
	if !criterion.TriStateMatches(r.Rule.IsCredit, tx.IsCredit) {
		return false
	}
	if !criterion.TriStateMatches(r.Rule.Intracountry, ectx.Intracountry) {
		return false
	}
	if !r.accountTypes.Matches(ectx.Profile.AccountType) {
		return false
	}
	if !r.categoryCodes.Matches(ectx.Profile.MerchantCategoryCode) {
		return false
	}
	if !r.acis.Matches(tx.ACI) {
		return false
	}
	if !r.captureDelay.Matches(ectx.Profile.CaptureDelay) {
		return false
	}
	if !r.monthlyVolume.Matches(ectx.Aggregate.TotalVolume) {
		return false
	}
	if !r.fraudLevel.Matches(ectx.Aggregate.FraudRatio) {
		return false
	}
	return true
}
