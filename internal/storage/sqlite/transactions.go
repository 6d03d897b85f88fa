package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

const transactionColumns = `invoice, parent_invoice, invoice_label, status,
	settlement_status, payment_method, total_with_fee, fee_bank, vat,
	quick_release_fee, quick_release_vat, fee_status, channel_category, cashflow`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var parent, method sql.NullString
	err := row.Scan(
		&t.Invoice, &parent, &t.InvoiceLabel, &t.Status,
		&t.SettlementStatus, &method, &t.TotalWithFee, &t.FeeBank, &t.VAT,
		&t.QuickReleaseFee, &t.QuickReleaseVAT, &t.FeeStatus, &t.Channel, &t.Cashflow,
	)
	if err != nil {
		return nil, err
	}
	t.ParentInvoice = parent.String
	t.PaymentMethod = method.String
	return &t, nil
}

// TransactionByInvoice retrieves one transaction by its invoice reference.
func (s *TenantStore) TransactionByInvoice(ctx context.Context, invoice string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE invoice = ?", invoice)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", invoice, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// PendingTransactions lists transactions with the given status and payment
// method, in insertion order.
func (s *TenantStore) PendingTransactions(ctx context.Context, status models.TransactionStatus, paymentMethod string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE status = ? AND payment_method = ? ORDER BY rowid",
		status, paymentMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// PendingWithdrawals lists transactions queued for quick-release payout.
func (s *TenantStore) PendingWithdrawals(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE settlement_status = ? AND status = ? ORDER BY rowid",
		models.SettlementPendingWithdrawal, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

// UpdateSettlement sets the status pair on one transaction.
func (s *TenantStore) UpdateSettlement(ctx context.Context, invoice string, status models.TransactionStatus, settlement models.SettlementStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = ?, settlement_status = ? WHERE invoice = ?",
		status, settlement, invoice)
	if err != nil {
		return fmt.Errorf("failed to update settlement for %s: %w", invoice, err)
	}
	return nil
}

// UpdateChildSettlements sets the status pair on every child of an invoice.
func (s *TenantStore) UpdateChildSettlements(ctx context.Context, parentInvoice string, status models.TransactionStatus, settlement models.SettlementStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = ?, settlement_status = ? WHERE parent_invoice = ?",
		status, settlement, parentInvoice)
	if err != nil {
		return fmt.Errorf("failed to update child settlements for %s: %w", parentInvoice, err)
	}
	return nil
}

// InsertTransaction seeds one transaction record. The engine itself never
// creates transactions; this supports onboarding tooling and tests.
func (s *TenantStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Invoice, t.ParentInvoice, t.InvoiceLabel, t.Status,
		t.SettlementStatus, t.PaymentMethod, t.TotalWithFee, t.FeeBank, t.VAT,
		t.QuickReleaseFee, t.QuickReleaseVAT, t.FeeStatus, t.Channel, t.Cashflow)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
