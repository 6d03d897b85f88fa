// Package settlement advances transaction, merchant, and position state
// machines based on transfer outcomes and balance sufficiency. Every
// transition is an idempotent re-application: running the machine against an
// already-settled record changes nothing.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// Cutoff is the local wall-clock time after which an under-funded merchant
// is locked for the day.
type Cutoff struct {
	Hour   int
	Minute int
}

// DefaultCutoff is 23:30 local time.
var DefaultCutoff = Cutoff{Hour: 23, Minute: 30}

// StateMachine applies settlement transitions. The clock and location are
// injectable so the daily cutoff is testable.
type StateMachine struct {
	cutoff Cutoff
	loc    *time.Location
	now    func() time.Time
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithCutoff overrides the daily lock cutoff.
func WithCutoff(c Cutoff) Option {
	return func(m *StateMachine) { m.cutoff = c }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *StateMachine) { m.now = now }
}

// New builds a StateMachine operating in the given timezone.
func New(loc *time.Location, opts ...Option) *StateMachine {
	m := &StateMachine{cutoff: DefaultCutoff, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Settled reports whether a set of transfer outcomes settles the
// transaction: every intent either created a transfer or found one already
// there.
func Settled(outcomes []executor.Outcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, o := range outcomes {
		if o == executor.OutcomeFailed {
			return false
		}
	}
	return true
}

// ApplyOutcomes advances the transaction's status pair from the transfer
// outcomes, and propagates the result to any child splits of the invoice.
// On failure the transaction stays NOT_SETTLED with status PENDING_TRANSFER
// so the next cycle retries it.
func (m *StateMachine) ApplyOutcomes(ctx context.Context, store storage.TenantStore, invoice string, outcomes []executor.Outcome) error {
	status, settlement := models.StatusPendingTransfer, models.SettlementNotSettled
	if Settled(outcomes) {
		status, settlement = models.StatusSucceeded, models.SettlementSettled
	}

	if err := store.UpdateSettlement(ctx, invoice, status, settlement); err != nil {
		return fmt.Errorf("apply outcomes to %s: %w", invoice, err)
	}
	if err := store.UpdateChildSettlements(ctx, invoice, status, settlement); err != nil {
		return fmt.Errorf("apply outcomes to children of %s: %w", invoice, err)
	}

	slog.Info("Settlement state updated",
		"invoice", invoice, "status", status, "settlement_status", settlement)
	return nil
}

// pastCutoff reports whether local time has passed the daily cutoff.
func (m *StateMachine) pastCutoff() bool {
	now := m.now().In(m.loc)
	cut := time.Date(now.Year(), now.Month(), now.Day(), m.cutoff.Hour, m.cutoff.Minute, 0, 0, m.loc)
	return now.After(cut)
}

// LockIfPastCutoff transitions an ACTIVE merchant to LOCKED when its balance
// could not cover the required payout and the daily cutoff has passed.
// Returns true when the lock was applied.
func (m *StateMachine) LockIfPastCutoff(ctx context.Context, store storage.TenantStore, merchant *models.Merchant) (bool, error) {
	if merchant.Status != models.MerchantActive || !m.pastCutoff() {
		return false, nil
	}
	if err := store.UpdateMerchantStatus(ctx, models.MerchantLocked); err != nil {
		return false, fmt.Errorf("lock merchant %s: %w", merchant.Name, err)
	}
	merchant.Status = models.MerchantLocked
	slog.Warn("Merchant locked past cutoff", "merchant", merchant.Name)
	return true, nil
}

// Reactivate transitions a LOCKED or PENDING_ACTIVE merchant back to ACTIVE
// once a cycle finds no pending cash transactions.
func (m *StateMachine) Reactivate(ctx context.Context, store storage.TenantStore, merchant *models.Merchant) error {
	if merchant.Status != models.MerchantLocked && merchant.Status != models.MerchantPendingActive {
		return nil
	}
	if err := store.UpdateMerchantStatus(ctx, models.MerchantActive); err != nil {
		return fmt.Errorf("reactivate merchant %s: %w", merchant.Name, err)
	}
	merchant.Status = models.MerchantActive
	slog.Info("Merchant reactivated", "merchant", merchant.Name)
	return nil
}
