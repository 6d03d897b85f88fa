package sqlite

import "database/sql"

// tenantSchema sets up one merchant store. These run on open to ensure
// tables exist; the engine itself never alters schema afterwards.
const tenantSchema = `
CREATE TABLE IF NOT EXISTS transactions (
    invoice TEXT PRIMARY KEY,
    parent_invoice TEXT,
    invoice_label TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    settlement_status TEXT NOT NULL DEFAULT '',
    payment_method TEXT,
    total_with_fee INTEGER NOT NULL DEFAULT 0,
    fee_bank INTEGER NOT NULL DEFAULT 0,
    vat INTEGER NOT NULL DEFAULT 0,
    quick_release_fee INTEGER NOT NULL DEFAULT 0,
    quick_release_vat INTEGER NOT NULL DEFAULT 0,
    fee_status TEXT NOT NULL DEFAULT '',
    channel_category TEXT NOT NULL DEFAULT '',
    cashflow TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    template_id TEXT,
    invoice TEXT,
    name TEXT,
    status TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS template_routes (
    template_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    source_account_id TEXT NOT NULL DEFAULT '',
    destination_account_id TEXT NOT NULL DEFAULT '',
    reference_id TEXT NOT NULL DEFAULT '',
    flat_amount INTEGER NOT NULL DEFAULT 0,
    percent_amount REAL NOT NULL DEFAULT 0,
    target TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    fee_bank INTEGER NOT NULL DEFAULT 0,
    total_fee INTEGER NOT NULL DEFAULT 0,
    taxes INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (template_id, seq),
    FOREIGN KEY (template_id) REFERENCES templates(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS merchant (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    name TEXT NOT NULL,
    account_id TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'TRX',
    status TEXT NOT NULL DEFAULT 'ACTIVE'
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'AVAILABLE',
    available_date INTEGER,
    start_date INTEGER,
    end_date INTEGER
);

CREATE INDEX IF NOT EXISTS idx_transactions_parent ON transactions(parent_invoice);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status, payment_method);
CREATE INDEX IF NOT EXISTS idx_templates_invoice ON templates(invoice);
`

// mainSchema sets up the platform store: tenant catalog, fee configuration,
// audit trail, and recorded payouts.
const mainSchema = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fee_configs (
    type TEXT PRIMARY KEY,
    fee_percent REAL NOT NULL DEFAULT 0,
    fee_flat INTEGER NOT NULL DEFAULT 0,
    vat_percent REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_trail (
    id TEXT PRIMARY KEY,
    transaction_ref TEXT NOT NULL,
    route_ref TEXT NOT NULL,
    source_account_id TEXT NOT NULL,
    destination_account_id TEXT NOT NULL,
    status TEXT NOT NULL,
    code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    execution_ms INTEGER NOT NULL DEFAULT 0,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id TEXT PRIMARY KEY,
    reference_id TEXT NOT NULL,
    channel_code TEXT NOT NULL,
    account_holder_name TEXT NOT NULL DEFAULT '',
    account_number TEXT NOT NULL DEFAULT '',
    amount INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT 'IDR',
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_outcome
    ON audit_trail(transaction_ref, route_ref, status);
`

// runMigrations executes the given schema setup.
func runMigrations(db *sql.DB, schema string) error {
	_, err := db.Exec(schema)
	return err
}
