package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestWorker(t *testing.T, eventBus domain.EventBus, policy fees.NoMatchPolicy) (*Worker, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-worker-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	profile := &domain.MerchantProfile{
		MerchantID:           "merchant-1",
		TenantID:             "tenant-test",
		AccountType:          "R",
		MerchantCategoryCode: 5411,
		CaptureDelay:         "immediate",
	}
	if err := repo.SaveMerchantProfile(context.Background(), "tenant-test", profile); err != nil {
		t.Fatalf("failed to save merchant profile: %v", err)
	}

	engine := fees.NewEngine()
	// Matches every GlobalCard transaction: fee = 0.10 + 0.5% of amount
	rule := &domain.FeeRule{
		ID:          "rule-wildcard",
		TenantID:    "tenant-test",
		CardScheme:  "GlobalCard",
		FixedAmount: decimal.RequireFromString("0.10"),
		Rate:        50,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	aggregates := aggregate.NewService(repo, nil)
	return NewWorker(eventBus, repo, engine, aggregates, policy), repo
}

func ingestPayload(t *testing.T, scheme string) []byte {
	t.Helper()
	tx := domain.Transaction{
		ID:              "tx-001",
		TenantID:        "tenant-test",
		MerchantID:      "merchant-1",
		Amount:          decimal.RequireFromString("100"),
		CardScheme:      scheme,
		ACI:             "D",
		IssuingCountry:  "NL",
		AcquirerCountry: "NL",
		Year:            2024,
		DayOfYear:       15,
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("failed to marshal transaction: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w, _ := newTestWorker(t, eventBus, fees.Lenient)

		err := w.Start(Config{TenantIDs: []string{"tenant-test"}})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = w.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ResolveIngestedTransaction", func(t *testing.T) {
		w, repo := newTestWorker(t, eventBus, fees.Lenient)

		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		// Track published resolutions
		var resolved atomic.Bool
		var resolvedPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicFeeResolved, func(ctx context.Context, msg *domain.Message) error {
			resolvedPayload = msg.Payload
			resolved.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicTransactionIngested, ingestPayload(t, "GlobalCard"))
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !resolved.Load() {
			t.Fatal("expected resolution to be published")
		}

		var res domain.FeeResolution
		if err := json.Unmarshal(resolvedPayload, &res); err != nil {
			t.Fatalf("failed to parse resolution: %v", err)
		}

		if res.TxID != "tx-001" {
			t.Errorf("expected txID 'tx-001', got '%s'", res.TxID)
		}
		if res.RuleID != "rule-wildcard" {
			t.Errorf("expected ruleID 'rule-wildcard', got '%s'", res.RuleID)
		}
		// 0.10 + 100 * 0.005
		if !res.Fee.Equal(decimal.RequireFromString("0.6")) {
			t.Errorf("expected fee 0.6, got %s", res.Fee)
		}
		if !res.Matched {
			t.Error("expected matched resolution")
		}

		// Resolution is persisted
		stored, err := repo.GetResolution(context.Background(), "tenant-test", res.ID)
		if err != nil {
			t.Fatalf("resolution not persisted: %v", err)
		}
		if !stored.Fee.Equal(res.Fee) {
			t.Errorf("stored fee %s differs from published fee %s", stored.Fee, res.Fee)
		}
	})

	t.Run("NoMatchPublished", func(t *testing.T) {
		w, _ := newTestWorker(t, eventBus, fees.Lenient)

		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		var noMatch atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicFeeNoMatch, func(ctx context.Context, msg *domain.Message) error {
			noMatch.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// No rule covers this scheme
		eventBus.Publish(context.Background(), "tenant-test", domain.TopicTransactionIngested, ingestPayload(t, "NexPay"))

		time.Sleep(100 * time.Millisecond)

		if !noMatch.Load() {
			t.Error("expected no-match event for uncovered scheme")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w, _ := newTestWorker(t, eventBus, fees.Lenient)

		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
