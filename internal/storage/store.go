// Package storage provides abstractions for the engine's persistent stores.
package storage

import (
	"context"
	"errors"

	"github.com/garapin-pos/settlement-engine/internal/models"
)

// ErrNotFound is returned when a record the engine asked for does not exist.
// The engine treats it as "nothing to do", not as a failure.
var ErrNotFound = errors.New("record not found")

// TenantStore is one merchant's isolated data store. The engine performs
// read/find and update-by-key operations only; it never alters schema.
// This abstraction keeps the settlement logic independent of the backing
// database.
type TenantStore interface {
	// TransactionByInvoice returns the transaction for an invoice reference.
	TransactionByInvoice(ctx context.Context, invoice string) (*models.Transaction, error)

	// PendingTransactions lists transactions awaiting transfer for the given
	// status and payment method (the cash flow's work queue).
	PendingTransactions(ctx context.Context, status models.TransactionStatus, paymentMethod string) ([]models.Transaction, error)

	// PendingWithdrawals lists transactions queued for quick-release payout.
	PendingWithdrawals(ctx context.Context) ([]models.Transaction, error)

	// UpdateSettlement sets the status pair on the transaction for invoice.
	// Re-applying the same pair is a no-op beyond the write itself.
	UpdateSettlement(ctx context.Context, invoice string, status models.TransactionStatus, settlement models.SettlementStatus) error

	// UpdateChildSettlements sets the status pair on every transaction whose
	// parent invoice is the given reference.
	UpdateChildSettlements(ctx context.Context, parentInvoice string, status models.TransactionStatus, settlement models.SettlementStatus) error

	// TemplateByInvoice returns the routing template keyed by invoice.
	TemplateByInvoice(ctx context.Context, invoice string) (*models.RoutingTemplate, error)

	// ActiveTemplate returns the tenant-level template used for
	// supplier-chain recursion, if one is configured and active.
	ActiveTemplate(ctx context.Context) (*models.RoutingTemplate, error)

	// Merchant returns the tenant's operating record.
	Merchant(ctx context.Context) (*models.Merchant, error)

	// UpdateMerchantStatus transitions the merchant's operating status.
	UpdateMerchantStatus(ctx context.Context, status models.MerchantStatus) error

	// Positions lists all rental-shelf slots.
	Positions(ctx context.Context) ([]models.Position, error)

	// UpdatePosition persists a slot's status and window dates.
	UpdatePosition(ctx context.Context, p *models.Position) error

	// Close releases the underlying connection.
	Close() error
}

// MainStore is the platform's central store: the tenant catalog, fee
// configuration, the audit trail, and recorded payouts.
type MainStore interface {
	// ListTenants enumerates the known tenants, once per cycle.
	ListTenants(ctx context.Context) ([]models.Tenant, error)

	// FeeConfig returns the fee configuration for a channel type key.
	FeeConfig(ctx context.Context, channelType string) (*models.FeeConfig, error)

	// AuditEntry returns the entry for the outcome key, or ErrNotFound.
	AuditEntry(ctx context.Context, txRef, routeRef string, status models.AuditStatus) (*models.AuditEntry, error)

	// InsertAuditEntry appends one outcome record. The caller checks for an
	// existing entry first; entries are write-once per outcome key.
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error

	// InsertWithdrawal records one quick-release payout.
	InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error

	// Close releases the underlying connection.
	Close() error
}
