package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summary totals a batch resolution run.
type Summary struct {
	Total     decimal.Decimal `json:"total"`
	Average   decimal.Decimal `json:"average"`
	Count     int             `json:"count"`
	Matched   int             `json:"matched"`
	Unmatched int             `json:"unmatched"`
}

// ResolveBatch resolves fees for a set of transactions sharing one
// aggregation window. Aggregates are computed from the batch itself, so
// every transaction is judged against the volume and fraud figures of
// its own merchant-month within the batch.
//
// Under Strict the first unmatched transaction aborts the run with
// ErrNoMatchingRule. Under Lenient unmatched transactions are recorded
// with a zero fee and counted in Summary.Unmatched. ErrUnknownMerchant
// and compile-time malformed criteria are hard errors under either
// policy.
func (e *Engine) ResolveBatch(tenantID string, txs []*domain.Transaction, profiles map[string]*domain.MerchantProfile, policy NoMatchPolicy) ([]*domain.FeeResolution, Summary, error) {
	aggregates := aggregate.Compute(txs)

	resolutions := make([]*domain.FeeResolution, 0, len(txs))
	summary := Summary{Total: decimal.Zero, Average: decimal.Zero}

	for _, tx := range txs {
		ectx, err := BuildContext(tx, profiles, aggregates)
		if err != nil {
			return nil, Summary{}, err
		}

		fee, rule, err := e.ResolveFee(ectx)
		switch {
		case err == nil:
			summary.Matched++
		case errors.Is(err, ErrNoMatchingRule) && policy == Lenient:
			summary.Unmatched++
			fee = decimal.Zero
		default:
			return nil, Summary{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}

		res := &domain.FeeResolution{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			TxID:       tx.ID,
			MerchantID: tx.MerchantID,
			Fee:        fee,
			Matched:    err == nil,
			ResolvedAt: time.Now().UnixNano(),
		}
		if rule != nil {
			res.RuleID = rule.ID
		}
		resolutions = append(resolutions, res)

		summary.Total = summary.Total.Add(fee)
		summary.Count++
	}

	if summary.Count > 0 {
		summary.Average = summary.Total.Div(decimal.NewFromInt(int64(summary.Count)))
	}
	return resolutions, summary, nil
}
