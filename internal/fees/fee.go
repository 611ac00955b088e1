package fees

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fee computes fixed_amount + rate*amount/10000 for a matched rule.
// Rate/10000 is represented exactly as a decimal with exponent -4, so
// the result carries no division error; rounding is left entirely to
// whoever formats the output.
func Fee(amount decimal.Decimal, rule *domain.FeeRule) decimal.Decimal {
	return rule.FixedAmount.Add(amount.Mul(decimal.New(rule.Rate, -4)))
}
