// Package executor issues transfer intents against the ledger at most once,
// recording one audit entry per distinct outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/ledger"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// Outcome classifies one intent execution.
type Outcome int

const (
	// OutcomeSettled: a new transfer was created successfully.
	OutcomeSettled Outcome = iota
	// OutcomeSkipped: a transfer with this reference already exists.
	OutcomeSkipped
	// OutcomeFailed: the ledger rejected the transfer; retried next cycle.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ExecError wraps an ambiguous failure: the transfer may or may not have
// reached the ledger, so no audit entry was written and the whole unit must
// be retried from scratch. Never swallow one silently.
type ExecError struct {
	Reference string
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("transfer %s outcome unknown: %v", e.Reference, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// AuditStore is the audit-trail subset of the main store.
type AuditStore interface {
	AuditEntry(ctx context.Context, txRef, routeRef string, status models.AuditStatus) (*models.AuditEntry, error)
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error
}

// Locker is a hook for an external lock around the check-then-act window.
// The default is a no-op, which leaves a small race between the prior-transfer
// check and the create; deployments that need stronger guarantees install a
// distributed lock here.
type Locker interface {
	Lock(ctx context.Context, reference string) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// Executor checks the ledger for a prior transfer before creating a new one
// and records each distinct outcome exactly once.
type Executor struct {
	ledger ledger.Client
	audits AuditStore
	locker Locker
	now    func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLocker installs an external lock implementation.
func WithLocker(l Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New builds an Executor.
func New(lc ledger.Client, audits AuditStore, opts ...Option) *Executor {
	e := &Executor{ledger: lc, audits: audits, locker: noopLocker{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute settles one transfer intent idempotently.
//
// The prior-transfer check and the create are not atomic: a concurrent
// duplicate submission of the same reference can slip through. That residual
// race is accepted; the Locker hook exists for deployments that need a real
// distributed lock.
func (e *Executor) Execute(ctx context.Context, intent resolver.TransferIntent) (Outcome, error) {
	unlock, err := e.locker.Lock(ctx, intent.Reference)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("lock %s: %w", intent.Reference, err)
	}
	defer unlock()

	existing, err := e.ledger.FindTransfersByReference(ctx, intent.DestinationAccountID, intent.Reference)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check prior transfer %s: %w", intent.Reference, err)
	}
	if len(existing) > 0 {
		slog.Debug("Transfer already settled", "reference", intent.Reference)
		return OutcomeSkipped, nil
	}

	start := e.now()
	_, err = e.ledger.CreateTransfer(ctx, ledger.TransferRequest{
		Amount:            intent.Amount,
		SourceUserID:      intent.SourceAccountID,
		DestinationUserID: intent.DestinationAccountID,
		Reference:         intent.Reference,
	})
	elapsed := e.now().Sub(start)

	if err != nil {
		var rej *ledger.RejectedError
		if errors.As(err, &rej) {
			return e.recordRejection(ctx, intent, rej, elapsed)
		}
		// Transport failure or exhausted rate-limit budget: the transfer
		// may have landed, so no audit entry is written.
		return OutcomeFailed, &ExecError{Reference: intent.Reference, Err: err}
	}

	e.writeAudit(ctx, intent, models.AuditSuccess, "",
		fmt.Sprintf("Transaction %s successfully split", intent.TransactionRef), elapsed)
	return OutcomeSettled, nil
}

// recordRejection maps a ledger rejection to an audit entry: rejections with
// an upstream error payload are ERROR entries carrying the code, bare non-2xx
// responses are FAILED entries.
func (e *Executor) recordRejection(ctx context.Context, intent resolver.TransferIntent, rej *ledger.RejectedError, elapsed time.Duration) (Outcome, error) {
	if rej.Code != "" {
		slog.Warn("Transfer rejected by ledger",
			"reference", intent.Reference, "code", rej.Code, "message", rej.Message)
		e.writeAudit(ctx, intent, models.AuditError, rej.Code, rej.Message, elapsed)
	} else {
		slog.Warn("Transfer failed", "reference", intent.Reference, "status", rej.StatusCode)
		e.writeAudit(ctx, intent, models.AuditFailed, "",
			fmt.Sprintf("Failed to split transaction %s", intent.TransactionRef), elapsed)
	}
	return OutcomeFailed, nil
}

// writeAudit records one outcome, write-once per (transaction, route,
// status). Audit failures are logged, not escalated: the transfer outcome is
// already decided.
func (e *Executor) writeAudit(ctx context.Context, intent resolver.TransferIntent, status models.AuditStatus, code, message string, elapsed time.Duration) {
	_, err := e.audits.AuditEntry(ctx, intent.TransactionRef, intent.RouteRef, status)
	if err == nil {
		return // already recorded
	}
	if !errors.Is(err, storage.ErrNotFound) {
		slog.Error("Failed to check audit trail",
			"transaction", intent.TransactionRef, "route", intent.RouteRef, "error", err)
		return
	}

	entry := &models.AuditEntry{
		TransactionRef:       intent.TransactionRef,
		RouteRef:             intent.RouteRef,
		SourceAccountID:      intent.SourceAccountID,
		DestinationAccountID: intent.DestinationAccountID,
		Status:               status,
		Code:                 code,
		Message:              message,
		ExecutionTime:        elapsed,
		Timestamp:            e.now().UTC(),
	}
	if err := e.audits.InsertAuditEntry(ctx, entry); err != nil {
		slog.Error("Failed to write audit entry",
			"transaction", intent.TransactionRef, "route", intent.RouteRef, "error", err)
	}
}
