// Package worker provides async fee resolution for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
)

// Worker resolves ingested transactions asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	engine     *fees.Engine
	aggregates *aggregate.Service
	policy     fees.NoMatchPolicy

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *fees.Engine, aggregates *aggregate.Service, policy fees.NoMatchPolicy) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		engine:     engine,
		aggregates: aggregates,
		policy:     policy,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins processing ingested transactions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes one tenant's ingestion topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// processTransaction resolves one ingested transaction against the
// loaded fee catalog and publishes the outcome.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if tx.TenantID != "" {
		tenantID = tx.TenantID
	}

	slog.Debug("resolving transaction",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
	)

	profile, err := w.repo.GetMerchantProfile(ctx, tenantID, tx.MerchantID)
	if err != nil {
		slog.Error("merchant profile lookup failed",
			"tx_id", tx.ID,
			"merchant_id", tx.MerchantID,
			"error", err,
		)
		return err
	}

	agg, err := w.aggregates.MerchantMonth(ctx, tenantID, tx.MonthKey())
	if err != nil {
		slog.Error("aggregate lookup failed",
			"tx_id", tx.ID,
			"merchant_id", tx.MerchantID,
			"error", err,
		)
		return err
	}

	ectx := &domain.EvaluationContext{
		Transaction:  &tx,
		Profile:      profile,
		Aggregate:    agg,
		Intracountry: tx.Intracountry(),
	}

	fee, rule, err := w.engine.ResolveFee(ectx)
	matched := err == nil
	if err != nil {
		if !errors.Is(err, fees.ErrNoMatchingRule) {
			slog.Error("fee resolution failed",
				"tx_id", tx.ID,
				"error", err,
			)
			return err
		}
		fee = decimal.Zero
	}

	if !matched {
		payload, _ := json.Marshal(map[string]string{"txId": tx.ID, "merchantId": tx.MerchantID})
		if err := w.bus.Publish(ctx, tenantID, domain.TopicFeeNoMatch, payload); err != nil {
			slog.Error("failed to publish no-match event",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if w.policy == fees.Strict {
			slog.Warn("transaction matched no fee rule",
				"tx_id", tx.ID,
				"tenant_id", tenantID,
			)
			return nil
		}
		// Lenient records the unmatched transaction with a zero fee
	}

	res := &domain.FeeResolution{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		TxID:       tx.ID,
		MerchantID: tx.MerchantID,
		Fee:        fee,
		Matched:    matched,
		ResolvedAt: time.Now().UnixNano(),
	}
	if rule != nil {
		res.RuleID = rule.ID
	}

	if w.repo != nil {
		if err := w.repo.SaveResolution(ctx, tenantID, res); err != nil {
			slog.Error("failed to save resolution",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	if matched {
		payload, _ := json.Marshal(res)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicFeeResolved, payload); err != nil {
			slog.Error("failed to publish resolution",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction resolved",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"matched", matched,
		"fee", fee.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
