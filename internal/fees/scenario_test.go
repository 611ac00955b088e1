package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func aciRule(id, aci string, fixed string) *domain.FeeRule {
	rule := wildcardRule(id)
	rule.ACIs = []string{aci}
	rule.FixedAmount = dec(fixed)
	rule.Rate = 0
	return rule
}

func TestSweepACI(t *testing.T) {
	engine := NewEngine()
	rules := []*domain.FeeRule{
		aciRule("rule-a", "A", "1.00"),
		aciRule("rule-b", "B", "0.50"),
		aciRule("rule-c", "C", "2.00"),
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	t.Run("omits candidates with no rule", func(t *testing.T) {
		result, err := engine.SweepACI(testContext("100"), nil)
		if err != nil {
			t.Fatalf("SweepACI() error = %v", err)
		}
		if len(result) != 3 {
			t.Fatalf("SweepACI() returned %d candidates, want 3", len(result))
		}
		for _, aci := range []string{"D", "E", "F", "G"} {
			if _, ok := result[aci]; ok {
				t.Errorf("candidate %s has no rule but appears in result", aci)
			}
		}
	})

	t.Run("fee per candidate", func(t *testing.T) {
		result, err := engine.SweepACI(testContext("100"), []string{"A", "B"})
		if err != nil {
			t.Fatalf("SweepACI() error = %v", err)
		}
		if !result["A"].Equal(dec("1.00")) || !result["B"].Equal(dec("0.50")) {
			t.Errorf("SweepACI() = %v, want A=1.00 B=0.50", result)
		}
	})

	t.Run("original transaction untouched", func(t *testing.T) {
		ectx := testContext("100")
		if _, err := engine.SweepACI(ectx, nil); err != nil {
			t.Fatalf("SweepACI() error = %v", err)
		}
		if ectx.Transaction.ACI != "D" {
			t.Errorf("sweep mutated the input transaction ACI to %s", ectx.Transaction.ACI)
		}
	})

	t.Run("no candidate matches", func(t *testing.T) {
		_, err := engine.SweepACI(testContext("100"), []string{"F", "G"})
		if !errors.Is(err, ErrNoMatchingRule) {
			t.Errorf("SweepACI() error = %v, want ErrNoMatchingRule", err)
		}
	})
}

func TestBest(t *testing.T) {
	t.Run("minimize", func(t *testing.T) {
		aci, fee, err := Best(map[string]decimal.Decimal{
			"A": dec("1.00"), "B": dec("0.50"), "C": dec("2.00"),
		}, Minimize)
		if err != nil {
			t.Fatalf("Best() error = %v", err)
		}
		if aci != "B" || !fee.Equal(dec("0.50")) {
			t.Errorf("Best(min) = %s/%s, want B/0.50", aci, fee)
		}
	})

	t.Run("maximize", func(t *testing.T) {
		aci, fee, err := Best(map[string]decimal.Decimal{
			"A": dec("1.00"), "C": dec("2.00"),
		}, Maximize)
		if err != nil {
			t.Fatalf("Best() error = %v", err)
		}
		if aci != "C" || !fee.Equal(dec("2.00")) {
			t.Errorf("Best(max) = %s/%s, want C/2.00", aci, fee)
		}
	})

	t.Run("tie breaks to lexically lowest", func(t *testing.T) {
		aci, _, err := Best(map[string]decimal.Decimal{
			"B": dec("0.75"), "A": dec("0.75"), "E": dec("0.75"),
		}, Minimize)
		if err != nil {
			t.Fatalf("Best() error = %v", err)
		}
		if aci != "A" {
			t.Errorf("Best() tie-break = %s, want A", aci)
		}
	})

	t.Run("empty result", func(t *testing.T) {
		if _, _, err := Best(nil, Minimize); !errors.Is(err, ErrNoMatchingRule) {
			t.Errorf("Best(nil) error = %v, want ErrNoMatchingRule", err)
		}
	})
}

func TestParseObjective(t *testing.T) {
	if obj, err := ParseObjective(""); err != nil || obj != Minimize {
		t.Errorf("ParseObjective(\"\") = %v, %v; want Minimize default", obj, err)
	}
	if obj, err := ParseObjective("maximize"); err != nil || obj != Maximize {
		t.Errorf("ParseObjective(\"maximize\") = %v, %v", obj, err)
	}
	if _, err := ParseObjective("middling"); err == nil {
		t.Error("expected error for unknown objective")
	}
}
