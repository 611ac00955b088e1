// Package aggregate computes per-merchant monthly volume and fraud
// metrics. Aggregates are built eagerly over a full batch before any
// rule matching runs.
package aggregate

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Compute groups transactions by merchant and calendar month and sums
// volumes. FraudRatio is fraud volume over total volume, defined as
// exactly zero when total volume is zero. The batch is scanned once;
// there is no incremental merge, so re-run Compute when it changes.
func Compute(txs []*domain.Transaction) map[domain.MonthKey]domain.MonthlyAggregate {
	out := make(map[domain.MonthKey]domain.MonthlyAggregate)

	for _, tx := range txs {
		key := tx.MonthKey()
		agg := out[key]
		agg.TotalVolume = agg.TotalVolume.Add(tx.Amount)
		if tx.Fraudulent {
			agg.FraudVolume = agg.FraudVolume.Add(tx.Amount)
		}
		out[key] = agg
	}

	for key, agg := range out {
		if agg.TotalVolume.IsPositive() {
			agg.FraudRatio = agg.FraudVolume.Div(agg.TotalVolume)
		}
		out[key] = agg
	}

	return out
}
