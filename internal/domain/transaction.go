package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one payment event. Transactions are immutable once
// ingested; the engine never mutates them.
type Transaction struct {
	// Core identifiers
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`

	// Payment details
	Amount     decimal.Decimal `json:"amount"` // currency-normalized
	CardScheme string          `json:"cardScheme"`
	IsCredit   bool            `json:"isCredit"`
	ACI        string          `json:"aci"`

	// Geography
	IssuingCountry  string `json:"issuingCountry"`
	AcquirerCountry string `json:"acquirerCountry"`

	// Calendar day the transaction happened on
	Year      int `json:"year"`
	DayOfYear int `json:"dayOfYear"`

	// Whether the transaction carries a fraudulent dispute
	Fraudulent bool `json:"fraudulent"`

	CreatedAt time.Time `json:"createdAt"`
}

// Date resolves (Year, DayOfYear) to a calendar date. time.Date
// normalizes out-of-range days, so leap years need no special casing.
func (t *Transaction) Date() time.Time {
	return time.Date(t.Year, time.January, t.DayOfYear, 0, 0, 0, 0, time.UTC)
}

// Intracountry reports whether the issuer and acquirer countries match.
func (t *Transaction) Intracountry() bool {
	return t.IssuingCountry == t.AcquirerCountry
}

// MonthKey returns the aggregation key for this transaction's merchant-month.
func (t *Transaction) MonthKey() MonthKey {
	d := t.Date()
	return MonthKey{
		MerchantID: t.MerchantID,
		Year:       d.Year(),
		Month:      d.Month(),
	}
}

// MerchantProfile holds the static per-merchant attributes a fee rule
// can match on. One profile per merchant; never mutated during a
// resolve pass.
type MerchantProfile struct {
	MerchantID  string `json:"merchantId"`
	TenantID    string `json:"tenantId"`
	AccountType string `json:"accountType"`

	MerchantCategoryCode int `json:"merchantCategoryCode"`

	// CaptureDelay is either a categorical token ("immediate", "manual")
	// or a day count rendered as a string ("7").
	CaptureDelay string `json:"captureDelay"`
}
