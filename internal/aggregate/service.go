package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// aggregateTTL bounds staleness of cached merchant-month aggregates.
const aggregateTTL = 5 * time.Minute

// Service computes merchant-month aggregates over stored transactions,
// with cache-assisted lookups for repeated resolutions of the same
// merchant-month.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new aggregate service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// MerchantMonth returns the aggregate for one merchant-month,
// recomputing it from the merchant's stored transactions on a cache
// miss. A merchant-month with no transactions yields a zero aggregate.
func (s *Service) MerchantMonth(ctx context.Context, tenantID string, key domain.MonthKey) (domain.MonthlyAggregate, error) {
	if tenantID == "" || key.MerchantID == "" {
		return domain.MonthlyAggregate{}, fmt.Errorf("tenantID and merchantID are required")
	}

	if s.cache != nil {
		cached, err := s.cache.GetAggregate(ctx, tenantID, key)
		if err == nil && cached != nil {
			return *cached, nil
		}
	}

	if s.repo == nil {
		return domain.MonthlyAggregate{}, fmt.Errorf("no data source available")
	}

	txs, err := s.repo.ListTransactionsByMerchant(ctx, tenantID, key.MerchantID, key.Year)
	if err != nil {
		return domain.MonthlyAggregate{}, fmt.Errorf("failed to load transactions: %w", err)
	}

	// One scan yields every month of the year; cache them all.
	all := Compute(txs)
	if s.cache != nil {
		for k, agg := range all {
			agg := agg
			_ = s.cache.SetAggregate(ctx, tenantID, k, &agg, aggregateTTL)
		}
	}

	return all[key], nil
}

// Invalidate drops the cached aggregate for one merchant-month, e.g.
// after new transactions for that month are ingested.
func (s *Service) Invalidate(ctx context.Context, tenantID string, key domain.MonthKey) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, tenantID, "agg:"+key.String())
}
