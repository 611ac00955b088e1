package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MonthKey identifies one merchant-month aggregation bucket.
type MonthKey struct {
	MerchantID string     `json:"merchantId"`
	Year       int        `json:"year"`
	Month      time.Month `json:"month"`
}

// String renders the key in a stable form used for cache keys and logs.
func (k MonthKey) String() string {
	return fmt.Sprintf("%s:%d-%02d", k.MerchantID, k.Year, int(k.Month))
}

// MonthlyAggregate holds the derived volume and fraud metrics for one
// merchant-month. FraudRatio is defined as exactly zero when
// TotalVolume is zero, never NaN and never an error.
type MonthlyAggregate struct {
	TotalVolume decimal.Decimal `json:"totalVolume"`
	FraudVolume decimal.Decimal `json:"fraudVolume"`
	FraudRatio  decimal.Decimal `json:"fraudRatio"`
}

// EvaluationContext is the ephemeral union of a transaction's dynamic
// fields, its merchant's static fields and the merchant-month
// aggregate, built once per transaction at match time.
type EvaluationContext struct {
	Transaction *Transaction
	Profile     *MerchantProfile
	Aggregate   MonthlyAggregate

	// Intracountry is derived once: issuing country == acquirer country.
	Intracountry bool
}
