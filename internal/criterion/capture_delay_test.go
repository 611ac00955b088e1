package criterion

import (
	"errors"
	"testing"
)

func mustParseDelay(t *testing.T, s string) CaptureDelay {
	t.Helper()
	c, err := ParseCaptureDelay(&s)
	if err != nil {
		t.Fatalf("ParseCaptureDelay(%q) failed: %v", s, err)
	}
	return c
}

func TestCaptureDelayWildcard(t *testing.T) {
	c, err := ParseCaptureDelay(nil)
	if err != nil {
		t.Fatalf("ParseCaptureDelay(nil) failed: %v", err)
	}
	for _, v := range []string{"immediate", "manual", "7", ""} {
		if !c.Matches(v) {
			t.Errorf("expected wildcard to match %q", v)
		}
	}
}

func TestCaptureDelayCategorical(t *testing.T) {
	c := mustParseDelay(t, "immediate")
	if !c.Matches("immediate") {
		t.Error("expected immediate to match immediate")
	}
	if c.Matches("manual") {
		t.Error("expected immediate not to match manual")
	}
	if c.Matches("0") {
		t.Error("categorical tokens never match day counts")
	}
	if !c.Matches("Immediate") {
		t.Error("expected token comparison to be case-insensitive")
	}
}

func TestCaptureDelayNumericRange(t *testing.T) {
	c := mustParseDelay(t, ">5")
	if !c.Matches("7") {
		t.Error(`expected merchant delay "7" to satisfy ">5"`)
	}
	if c.Matches("5") {
		t.Error(`expected "5" not to satisfy the open bound of ">5"`)
	}
	if c.Matches("manual") || c.Matches("immediate") {
		t.Error("categorical tokens never satisfy numeric-range rules")
	}

	band := mustParseDelay(t, "3-5")
	if !band.Matches("3") || !band.Matches("5") || !band.Matches("4") {
		t.Error("expected 3-5 to match its closed interval")
	}
	if band.Matches("2") || band.Matches("6") {
		t.Error("expected values outside 3-5 not to match")
	}
}

func TestCaptureDelayBareDayCount(t *testing.T) {
	c := mustParseDelay(t, "2")
	if !c.Matches("2") {
		t.Error("expected day-count rule to match the same day count")
	}
	if c.Matches("3") {
		t.Error("expected day-count rule not to match another count")
	}
}

func TestCaptureDelayMalformed(t *testing.T) {
	s := "soonish"
	_, err := ParseCaptureDelay(&s)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got: %v", err)
	}
}
