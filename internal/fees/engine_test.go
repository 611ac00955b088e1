package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func wildcardRule(id string) *domain.FeeRule {
	return &domain.FeeRule{
		ID:          id,
		TenantID:    "tenant-1",
		CardScheme:  "GlobalCard",
		FixedAmount: dec("0.10"),
		Rate:        50,
	}
}

func testContext(amount string) *domain.EvaluationContext {
	return &domain.EvaluationContext{
		Transaction: &domain.Transaction{
			ID:         "tx-1",
			TenantID:   "tenant-1",
			MerchantID: "merchant-1",
			Amount:     dec(amount),
			CardScheme: "GlobalCard",
			IsCredit:   false,
			ACI:        "D",
		},
		Profile: &domain.MerchantProfile{
			MerchantID:           "merchant-1",
			TenantID:             "tenant-1",
			AccountType:          "R",
			MerchantCategoryCode: 5411,
			CaptureDelay:         "immediate",
		},
		Aggregate: domain.MonthlyAggregate{
			TotalVolume: dec("50000"),
			FraudVolume: dec("5000"),
			FraudRatio:  dec("0.1"),
		},
		Intracountry: true,
	}
}

func TestEngineCompile(t *testing.T) {
	engine := NewEngine()

	t.Run("valid rule loads", func(t *testing.T) {
		if err := engine.LoadRule(wildcardRule("rule-1")); err != nil {
			t.Fatalf("LoadRule() error = %v", err)
		}
		if engine.RulesCount() != 1 {
			t.Errorf("RulesCount() = %d, want 1", engine.RulesCount())
		}
	})

	t.Run("missing card scheme rejected", func(t *testing.T) {
		rule := wildcardRule("rule-2")
		rule.CardScheme = ""
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for rule without card scheme")
		}
	})

	t.Run("malformed volume range rejected", func(t *testing.T) {
		rule := wildcardRule("rule-3")
		rule.MonthlyVolume = strPtr("100k-abc")
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for malformed volume range")
		}
	})

	t.Run("malformed capture delay rejected", func(t *testing.T) {
		rule := wildcardRule("rule-4")
		rule.CaptureDelay = strPtr("soonish")
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for malformed capture delay")
		}
	})

	t.Run("compile failure leaves catalog intact", func(t *testing.T) {
		if engine.RulesCount() != 1 {
			t.Errorf("RulesCount() = %d after failed loads, want 1", engine.RulesCount())
		}
	})
}

func TestReloadRules(t *testing.T) {
	engine := NewEngine()
	if err := engine.LoadRules([]*domain.FeeRule{wildcardRule("a"), wildcardRule("b")}); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	t.Run("atomic replace", func(t *testing.T) {
		if err := engine.ReloadRules([]*domain.FeeRule{wildcardRule("c")}); err != nil {
			t.Fatalf("ReloadRules() error = %v", err)
		}
		if engine.RulesCount() != 1 {
			t.Errorf("RulesCount() = %d, want 1", engine.RulesCount())
		}
	})

	t.Run("failed reload keeps old catalog", func(t *testing.T) {
		bad := wildcardRule("d")
		bad.MonthlyFraudLevel = strPtr("15%-5%")
		if err := engine.ReloadRules([]*domain.FeeRule{bad}); err == nil {
			t.Fatal("expected reload error for inverted fraud range")
		}
		if engine.RulesCount() != 1 {
			t.Errorf("RulesCount() = %d after failed reload, want 1", engine.RulesCount())
		}
		rules := engine.LoadedRules()
		if len(rules) != 1 || rules[0].ID != "c" {
			t.Errorf("LoadedRules() = %v, want catalog [c]", rules)
		}
	})
}

func TestMatching(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*domain.FeeRule)
		want   bool
	}{
		{"wildcard rule matches", func(r *domain.FeeRule) {}, true},
		{"card scheme mismatch", func(r *domain.FeeRule) { r.CardScheme = "TransactPlus" }, false},
		{"credit tri-state match", func(r *domain.FeeRule) { r.IsCredit = boolPtr(false) }, true},
		{"credit tri-state mismatch", func(r *domain.FeeRule) { r.IsCredit = boolPtr(true) }, false},
		{"intracountry match", func(r *domain.FeeRule) { r.Intracountry = boolPtr(true) }, true},
		{"intracountry mismatch", func(r *domain.FeeRule) { r.Intracountry = boolPtr(false) }, false},
		{"account type in set", func(r *domain.FeeRule) { r.AccountTypes = []string{"R", "D"} }, true},
		{"account type not in set", func(r *domain.FeeRule) { r.AccountTypes = []string{"H"} }, false},
		{"empty account type list is wildcard", func(r *domain.FeeRule) { r.AccountTypes = []string{} }, true},
		{"category code in set", func(r *domain.FeeRule) { r.MerchantCategoryCodes = []int{5411, 5812} }, true},
		{"category code not in set", func(r *domain.FeeRule) { r.MerchantCategoryCodes = []int{7999} }, false},
		{"aci in set", func(r *domain.FeeRule) { r.ACIs = []string{"C", "D"} }, true},
		{"aci not in set", func(r *domain.FeeRule) { r.ACIs = []string{"A"} }, false},
		{"capture delay token match", func(r *domain.FeeRule) { r.CaptureDelay = strPtr("immediate") }, true},
		{"capture delay token mismatch", func(r *domain.FeeRule) { r.CaptureDelay = strPtr("manual") }, false},
		{"volume inside range", func(r *domain.FeeRule) { r.MonthlyVolume = strPtr("10k-100k") }, true},
		{"volume outside range", func(r *domain.FeeRule) { r.MonthlyVolume = strPtr(">100k") }, false},
		{"fraud ratio inside range", func(r *domain.FeeRule) { r.MonthlyFraudLevel = strPtr("5%-15%") }, true},
		{"fraud ratio outside range", func(r *domain.FeeRule) { r.MonthlyFraudLevel = strPtr("0%-5%") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := wildcardRule("rule-1")
			tt.modify(rule)
			compiled, err := compileRule(rule)
			if err != nil {
				t.Fatalf("compileRule() error = %v", err)
			}
			if got := compiled.Matches(testContext("100")); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCaptureDelayCategoricalVsNumeric(t *testing.T) {
	rule := wildcardRule("rule-1")
	rule.CaptureDelay = strPtr(">5")
	compiled, err := compileRule(rule)
	if err != nil {
		t.Fatalf("compileRule() error = %v", err)
	}

	ectx := testContext("100")

	ectx.Profile.CaptureDelay = "7"
	if !compiled.Matches(ectx) {
		t.Error("numeric delay 7 should satisfy >5")
	}

	ectx.Profile.CaptureDelay = "manual"
	if compiled.Matches(ectx) {
		t.Error("categorical delay must never satisfy a numeric range")
	}
}

func TestResolveFirstMatchOrder(t *testing.T) {
	first := wildcardRule("first")
	second := wildcardRule("second")
	second.FixedAmount = dec("99")

	engine := NewEngine()
	if err := engine.LoadRules([]*domain.FeeRule{first, second}); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		rule, err := engine.Resolve(testContext("100"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if rule.ID != "first" {
			t.Fatalf("Resolve() picked %s, want first rule in catalog order", rule.ID)
		}
	}
}

func TestResolveAll(t *testing.T) {
	broad := wildcardRule("broad")
	narrow := wildcardRule("narrow")
	narrow.ACIs = []string{"D"}
	never := wildcardRule("never")
	never.CardScheme = "TransactPlus"

	engine := NewEngine()
	if err := engine.LoadRules([]*domain.FeeRule{broad, narrow, never}); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	matched := engine.ResolveAll(testContext("100"))
	if len(matched) != 2 {
		t.Fatalf("ResolveAll() returned %d rules, want 2", len(matched))
	}
	if matched[0].ID != "broad" || matched[1].ID != "narrow" {
		t.Errorf("ResolveAll() order = [%s %s], want catalog order [broad narrow]", matched[0].ID, matched[1].ID)
	}
}

func TestResolveNoMatch(t *testing.T) {
	engine := NewEngine()
	rule := wildcardRule("rule-1")
	rule.CardScheme = "TransactPlus"
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("LoadRule() error = %v", err)
	}

	_, err := engine.Resolve(testContext("100"))
	if !errors.Is(err, ErrNoMatchingRule) {
		t.Errorf("Resolve() error = %v, want ErrNoMatchingRule", err)
	}

	fee, _, err := engine.ResolveFee(testContext("100"))
	if !errors.Is(err, ErrNoMatchingRule) {
		t.Errorf("ResolveFee() error = %v, want ErrNoMatchingRule", err)
	}
	if !fee.IsZero() {
		t.Errorf("ResolveFee() fee = %s on error, want zero value", fee)
	}
}

func TestFee(t *testing.T) {
	t.Run("fixed plus basis points", func(t *testing.T) {
		rule := &domain.FeeRule{FixedAmount: dec("0.10"), Rate: 50}
		got := Fee(dec("100"), rule)
		if !got.Equal(dec("0.6")) {
			t.Errorf("Fee(100) = %s, want 0.6", got)
		}
	})

	t.Run("linear in amount", func(t *testing.T) {
		rule := &domain.FeeRule{FixedAmount: dec("0.10"), Rate: 37}
		amount := dec("123.45")
		diff := Fee(amount.Mul(dec("2")), rule).Sub(Fee(amount, rule))
		want := amount.Mul(decimal.New(37, -4))
		if !diff.Equal(want) {
			t.Errorf("fee(2a)-fee(a) = %s, want rate*a/10000 = %s", diff, want)
		}
	})

	t.Run("zero rate", func(t *testing.T) {
		rule := &domain.FeeRule{FixedAmount: dec("2.50"), Rate: 0}
		if got := Fee(dec("100000"), rule); !got.Equal(dec("2.50")) {
			t.Errorf("Fee() = %s, want fixed amount only", got)
		}
	})
}

func TestBuildContext(t *testing.T) {
	tx := testContext("100").Transaction
	profiles := map[string]*domain.MerchantProfile{
		"merchant-1": testContext("100").Profile,
	}

	t.Run("unknown merchant is a hard error", func(t *testing.T) {
		orphan := *tx
		orphan.MerchantID = "merchant-ghost"
		_, err := BuildContext(&orphan, profiles, nil)
		if !errors.Is(err, ErrUnknownMerchant) {
			t.Errorf("BuildContext() error = %v, want ErrUnknownMerchant", err)
		}
	})

	t.Run("missing aggregate is zero volume", func(t *testing.T) {
		ectx, err := BuildContext(tx, profiles, nil)
		if err != nil {
			t.Fatalf("BuildContext() error = %v", err)
		}
		if !ectx.Aggregate.TotalVolume.IsZero() || !ectx.Aggregate.FraudRatio.IsZero() {
			t.Errorf("empty merchant-month aggregate = %+v, want zeros", ectx.Aggregate)
		}
	})
}
