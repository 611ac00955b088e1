// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, merchant_id, amount, card_scheme, is_credit,
			aci, issuing_country, acquirer_country, year, day_of_year,
			fraudulent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.MerchantID,
		tx.Amount.String(), tx.CardScheme, boolToInt(tx.IsCredit),
		tx.ACI, tx.IssuingCountry, tx.AcquirerCountry,
		tx.Year, tx.DayOfYear, boolToInt(tx.Fraudulent),
		tx.CreatedAt,
	)
	return err
}

// SaveTransactions stores a batch of transactions in a single database
// transaction, so a partial batch never becomes visible.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []*domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			id, tenant_id, merchant_id, amount, card_scheme, is_credit,
			aci, issuing_country, acquirer_country, year, day_of_year,
			fraudulent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := dbTx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tx := range txs {
		if _, err := stmt.ExecContext(ctx,
			tx.ID, tenantID, tx.MerchantID,
			tx.Amount.String(), tx.CardScheme, boolToInt(tx.IsCredit),
			tx.ACI, tx.IssuingCountry, tx.AcquirerCountry,
			tx.Year, tx.DayOfYear, boolToInt(tx.Fraudulent),
			tx.CreatedAt,
		); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, merchant_id, amount, card_scheme, is_credit,
			   aci, issuing_country, acquirer_country, year, day_of_year,
			   fraudulent, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactionsByMerchant retrieves one merchant's transactions for
// a year, the window monthly aggregates are computed over.
func (r *SQLRepository) ListTransactionsByMerchant(ctx context.Context, tenantID string, merchantID string, year int) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, merchant_id, amount, card_scheme, is_credit,
			   aci, issuing_country, acquirer_country, year, day_of_year,
			   fraudulent, created_at
		FROM transactions
		WHERE tenant_id = ? AND merchant_id = ? AND year = ?
		ORDER BY day_of_year
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, merchantID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListTransactions retrieves all transactions for a tenant.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, merchant_id, amount, card_scheme, is_credit,
			   aci, issuing_country, acquirer_country, year, day_of_year,
			   fraudulent, created_at
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY year, day_of_year
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// SaveMerchantProfile stores a merchant profile with tenant isolation.
func (r *SQLRepository) SaveMerchantProfile(ctx context.Context, tenantID string, profile *domain.MerchantProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO merchant_profiles (
			merchant_id, tenant_id, account_type, merchant_category_code, capture_delay
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, tenant_id) DO UPDATE SET
			account_type = excluded.account_type,
			merchant_category_code = excluded.merchant_category_code,
			capture_delay = excluded.capture_delay
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.MerchantID, tenantID, profile.AccountType,
		profile.MerchantCategoryCode, profile.CaptureDelay,
	)
	return err
}

// GetMerchantProfile retrieves a merchant profile with tenant isolation.
func (r *SQLRepository) GetMerchantProfile(ctx context.Context, tenantID string, merchantID string) (*domain.MerchantProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT merchant_id, tenant_id, account_type, merchant_category_code, capture_delay
		FROM merchant_profiles
		WHERE tenant_id = ? AND merchant_id = ?
	`

	var p domain.MerchantProfile
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID).Scan(
		&p.MerchantID, &p.TenantID, &p.AccountType,
		&p.MerchantCategoryCode, &p.CaptureDelay,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ListMerchantProfiles retrieves all merchant profiles for a tenant.
func (r *SQLRepository) ListMerchantProfiles(ctx context.Context, tenantID string) ([]*domain.MerchantProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT merchant_id, tenant_id, account_type, merchant_category_code, capture_delay
		FROM merchant_profiles
		WHERE tenant_id = ?
		ORDER BY merchant_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.MerchantProfile
	for rows.Next() {
		var p domain.MerchantProfile
		if err := rows.Scan(
			&p.MerchantID, &p.TenantID, &p.AccountType,
			&p.MerchantCategoryCode, &p.CaptureDelay,
		); err != nil {
			return nil, err
		}
		profiles = append(profiles, &p)
	}

	return profiles, rows.Err()
}

// SaveFeeRule stores a fee rule at the given catalog position.
func (r *SQLRepository) SaveFeeRule(ctx context.Context, tenantID string, rule *domain.FeeRule, position int) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fee_rules (
			id, tenant_id, position, card_scheme, account_types,
			merchant_category_codes, capture_delay, is_credit, acis,
			intracountry, monthly_volume, monthly_fraud_level,
			fixed_amount, rate, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			position = excluded.position,
			card_scheme = excluded.card_scheme,
			account_types = excluded.account_types,
			merchant_category_codes = excluded.merchant_category_codes,
			capture_delay = excluded.capture_delay,
			is_credit = excluded.is_credit,
			acis = excluded.acis,
			intracountry = excluded.intracountry,
			monthly_volume = excluded.monthly_volume,
			monthly_fraud_level = excluded.monthly_fraud_level,
			fixed_amount = excluded.fixed_amount,
			rate = excluded.rate,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), feeRuleArgs(rule, tenantID, position, now, now)...)
	return err
}

// GetFeeRule retrieves a fee rule with tenant isolation.
func (r *SQLRepository) GetFeeRule(ctx context.Context, tenantID string, ruleID string) (*domain.FeeRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, card_scheme, account_types,
			   merchant_category_codes, capture_delay, is_credit, acis,
			   intracountry, monthly_volume, monthly_fraud_level,
			   fixed_amount, rate
		FROM fee_rules
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanFeeRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListFeeRules retrieves a tenant's fee catalog in declared order.
func (r *SQLRepository) ListFeeRules(ctx context.Context, tenantID string) ([]*domain.FeeRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, card_scheme, account_types,
			   merchant_category_codes, capture_delay, is_credit, acis,
			   intracountry, monthly_volume, monthly_fraud_level,
			   fixed_amount, rate
		FROM fee_rules
		WHERE tenant_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FeeRule
	for rows.Next() {
		rule, err := scanFeeRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ReplaceFeeCatalog swaps a tenant's whole catalog in one database
// transaction. Positions are assigned from slice order.
func (r *SQLRepository) ReplaceFeeCatalog(ctx context.Context, tenantID string, rules []*domain.FeeRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, r.rebind(`DELETE FROM fee_rules WHERE tenant_id = ?`), tenantID); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO fee_rules (
			id, tenant_id, position, card_scheme, account_types,
			merchant_category_codes, capture_delay, is_credit, acis,
			intracountry, monthly_volume, monthly_fraud_level,
			fixed_amount, rate, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	now := time.Now().UTC()
	for i, rule := range rules {
		if _, err := dbTx.ExecContext(ctx, insert, feeRuleArgs(rule, tenantID, i, now, now)...); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}

	return dbTx.Commit()
}

// DeleteFeeRule removes a rule from the catalog.
func (r *SQLRepository) DeleteFeeRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM fee_rules WHERE tenant_id = ? AND id = ?`), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveResolution stores a fee resolution with tenant isolation.
func (r *SQLRepository) SaveResolution(ctx context.Context, tenantID string, res *domain.FeeResolution) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fee_resolutions (
			id, tenant_id, tx_id, merchant_id, rule_id, fee, matched, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.TxID, res.MerchantID,
		res.RuleID, res.Fee.String(), boolToInt(res.Matched), res.ResolvedAt,
	)
	return err
}

// GetResolution retrieves a fee resolution by ID with tenant isolation.
func (r *SQLRepository) GetResolution(ctx context.Context, tenantID string, resID string) (*domain.FeeResolution, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, merchant_id, rule_id, fee, matched, resolved_at
		FROM fee_resolutions
		WHERE tenant_id = ? AND id = ?
	`

	var res domain.FeeResolution
	var fee string
	var matched int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resID).Scan(
		&res.ID, &res.TenantID, &res.TxID, &res.MerchantID,
		&res.RuleID, &fee, &matched, &res.ResolvedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.Fee, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored fee: %w", err)
	}
	res.Matched = matched == 1

	return &res, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	var isCredit, fraudulent int

	if err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.MerchantID,
		&amount, &tx.CardScheme, &isCredit,
		&tx.ACI, &tx.IssuingCountry, &tx.AcquirerCountry,
		&tx.Year, &tx.DayOfYear, &fraudulent,
		&tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount: %w", err)
	}
	tx.IsCredit = isCredit == 1
	tx.Fraudulent = fraudulent == 1

	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func feeRuleArgs(rule *domain.FeeRule, tenantID string, position int, createdAt, updatedAt time.Time) []any {
	accountTypes := marshalList(rule.AccountTypes)
	categoryCodes := marshalList(rule.MerchantCategoryCodes)
	acis := marshalList(rule.ACIs)

	return []any{
		rule.ID, tenantID, position, rule.CardScheme, accountTypes,
		categoryCodes, rule.CaptureDelay, nullableBool(rule.IsCredit), acis,
		nullableBool(rule.Intracountry), rule.MonthlyVolume, rule.MonthlyFraudLevel,
		rule.FixedAmount.String(), rule.Rate, createdAt, updatedAt,
	}
}

func scanFeeRule(row rowScanner) (*domain.FeeRule, error) {
	var rule domain.FeeRule
	var accountTypes, categoryCodes, acis sql.NullString
	var captureDelay, monthlyVolume, fraudLevel sql.NullString
	var isCredit, intracountry sql.NullInt64
	var fixedAmount string

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.CardScheme, &accountTypes,
		&categoryCodes, &captureDelay, &isCredit, &acis,
		&intracountry, &monthlyVolume, &fraudLevel,
		&fixedAmount, &rule.Rate,
	); err != nil {
		return nil, err
	}

	var err error
	rule.FixedAmount, err = decimal.NewFromString(fixedAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored fixed amount: %w", err)
	}

	if err := unmarshalList(accountTypes, &rule.AccountTypes); err != nil {
		return nil, fmt.Errorf("rule %s: account types: %w", rule.ID, err)
	}
	if err := unmarshalList(categoryCodes, &rule.MerchantCategoryCodes); err != nil {
		return nil, fmt.Errorf("rule %s: category codes: %w", rule.ID, err)
	}
	if err := unmarshalList(acis, &rule.ACIs); err != nil {
		return nil, fmt.Errorf("rule %s: acis: %w", rule.ID, err)
	}

	rule.CaptureDelay = nullStringPtr(captureDelay)
	rule.MonthlyVolume = nullStringPtr(monthlyVolume)
	rule.MonthlyFraudLevel = nullStringPtr(fraudLevel)
	rule.IsCredit = nullBoolPtr(isCredit)
	rule.Intracountry = nullBoolPtr(intracountry)

	return &rule, nil
}

// marshalList stores nil and empty slices as SQL NULL so the wildcard
// semantics survive a round trip.
func marshalList[T any](list []T) any {
	if len(list) == 0 {
		return nil
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalList[T any](raw sql.NullString, out *[]T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullBoolPtr(i sql.NullInt64) *bool {
	if !i.Valid {
		return nil
	}
	v := i.Int64 == 1
	return &v
}
