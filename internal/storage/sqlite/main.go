package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// ListTenants enumerates the tenant catalog.
func (s *MainStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM tenants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return out, nil
}

// AddTenant registers one tenant in the catalog (onboarding and tests).
func (s *MainStore) AddTenant(ctx context.Context, t models.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tenants (id, name) VALUES (?, ?)", t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("failed to add tenant: %w", err)
	}
	return nil
}

// FeeConfig returns the fee configuration for one channel type key.
func (s *MainStore) FeeConfig(ctx context.Context, channelType string) (*models.FeeConfig, error) {
	var cfg models.FeeConfig
	var feePercent, vatPercent float64
	err := s.db.QueryRowContext(ctx,
		"SELECT type, fee_percent, fee_flat, vat_percent FROM fee_configs WHERE type = ?", channelType).
		Scan(&cfg.Type, &feePercent, &cfg.FeeFlat, &vatPercent)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fee config %s: %w", channelType, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fee config: %w", err)
	}
	cfg.FeePercent = decimal.NewFromFloat(feePercent)
	cfg.VATPercent = decimal.NewFromFloat(vatPercent)
	return &cfg, nil
}

// SetFeeConfig stores the fee configuration for one channel type.
func (s *MainStore) SetFeeConfig(ctx context.Context, cfg *models.FeeConfig) error {
	feePercent, _ := cfg.FeePercent.Float64()
	vatPercent, _ := cfg.VATPercent.Float64()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO fee_configs (type, fee_percent, fee_flat, vat_percent) VALUES (?, ?, ?, ?)",
		cfg.Type, feePercent, cfg.FeeFlat, vatPercent)
	if err != nil {
		return fmt.Errorf("failed to set fee config: %w", err)
	}
	return nil
}

// AuditEntry returns the entry for one outcome key, or storage.ErrNotFound.
func (s *MainStore) AuditEntry(ctx context.Context, txRef, routeRef string, status models.AuditStatus) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var execMS, ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, transaction_ref, route_ref, source_account_id, destination_account_id,
		        status, code, message, execution_ms, timestamp
		 FROM audit_trail WHERE transaction_ref = ? AND route_ref = ? AND status = ?`,
		txRef, routeRef, status).
		Scan(&e.ID, &e.TransactionRef, &e.RouteRef, &e.SourceAccountID, &e.DestinationAccountID,
			&e.Status, &e.Code, &e.Message, &execMS, &ts)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry %s/%s/%s: %w", txRef, routeRef, status, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	e.ExecutionTime = time.Duration(execMS) * time.Millisecond
	e.Timestamp = time.Unix(ts, 0).UTC()
	return &e, nil
}

// InsertAuditEntry appends one outcome record. The unique index on the
// outcome key backstops the caller's check-then-insert.
func (s *MainStore) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_trail (id, transaction_ref, route_ref, source_account_id,
		     destination_account_id, status, code, message, execution_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TransactionRef, e.RouteRef, e.SourceAccountID, e.DestinationAccountID,
		e.Status, e.Code, e.Message, e.ExecutionTime.Milliseconds(), e.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// InsertWithdrawal records one quick-release payout.
func (s *MainStore) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO withdrawals (id, reference_id, channel_code, account_holder_name,
		     account_number, amount, description, currency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ReferenceID, w.ChannelCode, w.AccountHolderName,
		w.AccountNumber, w.Amount, w.Description, w.Currency, w.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}
