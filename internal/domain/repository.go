// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	SaveTransactions(ctx context.Context, tenantID string, txs []*Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactionsByMerchant(ctx context.Context, tenantID string, merchantID string, year int) ([]*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string) ([]*Transaction, error)

	// Merchant profile operations
	SaveMerchantProfile(ctx context.Context, tenantID string, profile *MerchantProfile) error
	GetMerchantProfile(ctx context.Context, tenantID string, merchantID string) (*MerchantProfile, error)
	ListMerchantProfiles(ctx context.Context, tenantID string) ([]*MerchantProfile, error)

	// Fee catalog operations. Catalog order is part of the data:
	// SaveFeeRule appends at the given position and ListFeeRules returns
	// rules in declared order, which the resolver's first-match policy
	// depends on.
	SaveFeeRule(ctx context.Context, tenantID string, rule *FeeRule, position int) error
	GetFeeRule(ctx context.Context, tenantID string, ruleID string) (*FeeRule, error)
	ListFeeRules(ctx context.Context, tenantID string) ([]*FeeRule, error)
	ReplaceFeeCatalog(ctx context.Context, tenantID string, rules []*FeeRule) error
	DeleteFeeRule(ctx context.Context, tenantID string, ruleID string) error

	// Resolution results
	SaveResolution(ctx context.Context, tenantID string, res *FeeResolution) error
	GetResolution(ctx context.Context, tenantID string, resID string) (*FeeResolution, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
