package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(id, merchant string, year, day int, amount string, fraud bool) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		MerchantID: merchant,
		Amount:     decimal.RequireFromString(amount),
		Year:       year,
		DayOfYear:  day,
		Fraudulent: fraud,
	}
}

func TestComputeGroupsByMerchantMonth(t *testing.T) {
	txs := []*domain.Transaction{
		tx("t1", "m1", 2023, 10, "100", false), // January
		tx("t2", "m1", 2023, 20, "200", false), // January
		tx("t3", "m1", 2023, 40, "50", false),  // February (day 40 = Feb 9)
		tx("t4", "m2", 2023, 10, "75", false),  // January, other merchant
	}

	aggs := Compute(txs)

	if len(aggs) != 3 {
		t.Fatalf("expected 3 merchant-month buckets, got %d", len(aggs))
	}

	jan := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.January}]
	if !jan.TotalVolume.Equal(decimal.RequireFromString("300")) {
		t.Errorf("expected m1 January volume 300, got %s", jan.TotalVolume)
	}

	feb := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.February}]
	if !feb.TotalVolume.Equal(decimal.RequireFromString("50")) {
		t.Errorf("expected m1 February volume 50, got %s", feb.TotalVolume)
	}

	other := aggs[domain.MonthKey{MerchantID: "m2", Year: 2023, Month: time.January}]
	if !other.TotalVolume.Equal(decimal.RequireFromString("75")) {
		t.Errorf("expected m2 January volume 75, got %s", other.TotalVolume)
	}
}

func TestComputeFraudRatio(t *testing.T) {
	txs := []*domain.Transaction{
		tx("t1", "m1", 2023, 5, "900", false),
		tx("t2", "m1", 2023, 6, "100", true),
	}

	aggs := Compute(txs)
	agg := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.January}]

	if !agg.FraudVolume.Equal(decimal.RequireFromString("100")) {
		t.Errorf("expected fraud volume 100, got %s", agg.FraudVolume)
	}
	if !agg.FraudRatio.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected fraud ratio 0.1, got %s", agg.FraudRatio)
	}
	if agg.FraudRatio.IsNegative() || agg.FraudRatio.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("fraud ratio must stay in [0,1], got %s", agg.FraudRatio)
	}
}

func TestComputeZeroVolumeRatio(t *testing.T) {
	txs := []*domain.Transaction{
		tx("t1", "m1", 2023, 5, "0", true),
	}

	aggs := Compute(txs)
	agg := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.January}]

	if !agg.FraudRatio.IsZero() {
		t.Errorf("expected ratio exactly 0 for zero volume, got %s", agg.FraudRatio)
	}
}

func TestComputeEmptyBatch(t *testing.T) {
	aggs := Compute(nil)
	if len(aggs) != 0 {
		t.Errorf("expected no buckets for empty batch, got %d", len(aggs))
	}
}

func TestMonthBoundaries(t *testing.T) {
	// Day 31 is January 31; day 32 is February 1.
	txs := []*domain.Transaction{
		tx("t1", "m1", 2023, 31, "10", false),
		tx("t2", "m1", 2023, 32, "20", false),
	}

	aggs := Compute(txs)

	jan := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.January}]
	feb := aggs[domain.MonthKey{MerchantID: "m1", Year: 2023, Month: time.February}]

	if !jan.TotalVolume.Equal(decimal.RequireFromString("10")) {
		t.Errorf("expected day 31 in January, got volume %s", jan.TotalVolume)
	}
	if !feb.TotalVolume.Equal(decimal.RequireFromString("20")) {
		t.Errorf("expected day 32 in February, got volume %s", feb.TotalVolume)
	}
}

func TestLeapYearDayResolution(t *testing.T) {
	// 2024 is a leap year: day 60 is February 29.
	leap := tx("t1", "m1", 2024, 60, "10", false)
	if got := leap.Date().Format("2006-01-02"); got != "2024-02-29" {
		t.Errorf("expected 2024 day 60 to be 2024-02-29, got %s", got)
	}

	// 2023 is not: day 60 is March 1.
	plain := tx("t2", "m1", 2023, 60, "10", false)
	if got := plain.Date().Format("2006-01-02"); got != "2023-03-01" {
		t.Errorf("expected 2023 day 60 to be 2023-03-01, got %s", got)
	}
}
