// Package fees provides the fee-rule matching and calculation engine.
package fees

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/criterion"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrNoMatchingRule reports a transaction that matched zero rules.
	// It is a distinct, recoverable outcome: callers choose whether it
	// aborts a batch (strict) or contributes zero (lenient).
	ErrNoMatchingRule = errors.New("no matching fee rule")

	// ErrUnknownMerchant reports a transaction whose merchant has no
	// profile. Matching is meaningless without static attributes, so
	// this is always a hard error.
	ErrUnknownMerchant = errors.New("unknown merchant")
)

// Engine holds a compiled fee catalog and evaluates transactions
// against it. Criteria are parsed once at load; matching re-parses
// nothing. Catalog order is preserved because the default selection
// policy is first-match-wins.
type Engine struct {
	mu       sync.RWMutex
	compiled []*CompiledRule
}

// CompiledRule pairs a catalog rule with its parsed criteria.
type CompiledRule struct {
	Rule *domain.FeeRule

	accountTypes  criterion.StringSet
	categoryCodes criterion.IntSet
	acis          criterion.StringSet
	captureDelay  criterion.CaptureDelay
	monthlyVolume criterion.Range
	fraudLevel    criterion.Range
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.FeeRule) error {
	if rule == nil {
		return fmt.Errorf("fee rule is required")
	}
	_, err := compileRule(rule)
	return err
}

// LoadRule compiles and appends a rule to the catalog.
func (e *Engine) LoadRule(rule *domain.FeeRule) error {
	compiled, err := compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = append(e.compiled, compiled)
	return nil
}

// LoadRules compiles and appends rules in the given order.
func (e *Engine) LoadRules(rules []*domain.FeeRule) error {
	for _, rule := range rules {
		if err := e.LoadRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces the whole catalog atomically. A compile failure
// leaves the currently loaded catalog untouched.
func (e *Engine) ReloadRules(rules []*domain.FeeRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = compiled
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the loaded catalog in declared order.
func (e *Engine) LoadedRules() []*domain.FeeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FeeRule, len(e.compiled))
	for i, c := range e.compiled {
		rules[i] = c.Rule
	}
	return rules
}

// Close clears the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = nil
	return nil
}

// snapshot copies the compiled slice header so a resolve pass is not
// affected by a concurrent reload.
func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.compiled
}

func compileRule(rule *domain.FeeRule) (*CompiledRule, error) {
	if rule.CardScheme == "" {
		return nil, fmt.Errorf("rule %s: card scheme is required", rule.ID)
	}

	captureDelay, err := criterion.ParseCaptureDelay(rule.CaptureDelay)
	if err != nil {
		return nil, fmt.Errorf("rule %s: capture delay: %w", rule.ID, err)
	}
	monthlyVolume, err := criterion.ParseRange(rule.MonthlyVolume)
	if err != nil {
		return nil, fmt.Errorf("rule %s: monthly volume: %w", rule.ID, err)
	}
	fraudLevel, err := criterion.ParseRange(rule.MonthlyFraudLevel)
	if err != nil {
		return nil, fmt.Errorf("rule %s: monthly fraud level: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:          rule,
		accountTypes:  criterion.NewStringSet(rule.AccountTypes),
		categoryCodes: criterion.NewIntSet(rule.MerchantCategoryCodes),
		acis:          criterion.NewStringSet(rule.ACIs),
		captureDelay:  captureDelay,
		monthlyVolume: monthlyVolume,
		fraudLevel:    fraudLevel,
	}, nil
}
