package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Monetary values are
// stored as TEXT and parsed back to decimals so no precision is lost
// in either direction.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    card_scheme TEXT NOT NULL,
    is_credit INTEGER NOT NULL,
    aci TEXT NOT NULL,
    issuing_country TEXT NOT NULL,
    acquirer_country TEXT NOT NULL,
    year INTEGER NOT NULL,
    day_of_year INTEGER NOT NULL,
    fraudulent INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(tenant_id, merchant_id, year);
`

const schemaMerchantProfiles = `
CREATE TABLE IF NOT EXISTS merchant_profiles (
    merchant_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    account_type TEXT NOT NULL,
    merchant_category_code INTEGER NOT NULL,
    capture_delay TEXT NOT NULL,
    PRIMARY KEY (merchant_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_merchant_profiles_tenant ON merchant_profiles(tenant_id);
`

// position carries catalog order; the resolver's first-match policy
// depends on ListFeeRules returning rows in this order.
const schemaFeeRules = `
CREATE TABLE IF NOT EXISTS fee_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    card_scheme TEXT NOT NULL,
    account_types TEXT,
    merchant_category_codes TEXT,
    capture_delay TEXT,
    is_credit INTEGER,
    acis TEXT,
    intracountry INTEGER,
    monthly_volume TEXT,
    monthly_fraud_level TEXT,
    fixed_amount TEXT NOT NULL,
    rate INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_fee_rules_tenant ON fee_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fee_rules_position ON fee_rules(tenant_id, position);
`

const schemaFeeResolutions = `
CREATE TABLE IF NOT EXISTS fee_resolutions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    rule_id TEXT,
    fee TEXT NOT NULL,
    matched INTEGER NOT NULL,
    resolved_at BIGINT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_fee_resolutions_tenant ON fee_resolutions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fee_resolutions_tx ON fee_resolutions(tenant_id, tx_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaMerchantProfiles,
		schemaFeeRules,
		schemaFeeResolutions,
	}
}
