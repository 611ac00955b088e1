package domain

import (
	"github.com/shopspring/decimal"
)

// FeeRule is one row of the fee catalog. Every criterion except
// CardScheme is independently wildcard-able: a nil pointer or empty
// slice means "matches any value". Catalog order is significant; the
// resolver's default policy picks the first structural match.
type FeeRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// CardScheme is the only criterion that is always required.
	CardScheme string `json:"cardScheme"`

	AccountTypes          []string `json:"accountTypes,omitempty"`
	MerchantCategoryCodes []int    `json:"merchantCategoryCodes,omitempty"`

	// CaptureDelay is a categorical token ("immediate", "manual") or a
	// numeric range token ("<3", "3-5", ">5").
	CaptureDelay *string `json:"captureDelay,omitempty"`

	IsCredit *bool    `json:"isCredit,omitempty"`
	ACIs     []string `json:"acis,omitempty"`

	// Intracountry constrains the derived issuer==acquirer flag.
	Intracountry *bool `json:"intracountry,omitempty"`

	// MonthlyVolume and MonthlyFraudLevel are range strings in the
	// catalog mini-language, e.g. "100k-1m", ">5", "7.7%-8.3%".
	MonthlyVolume     *string `json:"monthlyVolume,omitempty"`
	MonthlyFraudLevel *string `json:"monthlyFraudLevel,omitempty"`

	// Fee components: fee = FixedAmount + Rate*amount/10000.
	FixedAmount decimal.Decimal `json:"fixedAmount"`
	Rate        int64           `json:"rate"`
}

// FeeResolution is the persisted outcome of resolving one transaction
// against the catalog.
type FeeResolution struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	TxID       string          `json:"txId"`
	MerchantID string          `json:"merchantId"`
	RuleID     string          `json:"ruleId,omitempty"` // empty when no rule matched
	Fee        decimal.Decimal `json:"fee"`
	Matched    bool            `json:"matched"`
	ResolvedAt int64           `json:"resolvedAt"` // unix nanos
}
