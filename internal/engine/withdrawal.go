package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/ledger"
	"github.com/garapin-pos/settlement-engine/internal/metrics"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/notify"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/settlement"
	"github.com/garapin-pos/settlement-engine/internal/storage"
	"github.com/garapin-pos/settlement-engine/internal/tenant"
)

const (
	withdrawalChannelCode = "XENDIT"
	withdrawalDescription = "QUICK RELEASE WITHDRAW"
	withdrawalCurrency    = "IDR"
)

// WithdrawalEngine runs the quick-release flow: transactions queued as
// PENDING_WITHDRAWAL are paid out of the platform's holding account ahead of
// the channel's own settlement schedule. The platform leg of the split
// collects the fees withheld from the other legs.
type WithdrawalEngine struct {
	runner
	cfg      Config
	ledger   ledger.Client
	tenants  *tenant.Manager
	main     storage.MainStore
	resolver *resolver.Resolver
	state    *settlement.StateMachine
	notifier notify.Notifier
	pool     *Pool
}

// NewWithdrawal builds the withdrawal-flow engine.
func NewWithdrawal(cfg Config, lc ledger.Client, tenants *tenant.Manager, main storage.MainStore,
	res *resolver.Resolver, exec *executor.Executor, state *settlement.StateMachine,
	notifier notify.Notifier, pool *Pool, m *metrics.Metrics) *WithdrawalEngine {
	return &WithdrawalEngine{
		runner: runner{exec: exec, metrics: m},
		cfg:    cfg, ledger: lc, tenants: tenants, main: main,
		resolver: res, state: state, notifier: notifier, pool: pool,
	}
}

// RunCycle dispatches one unit of work per tenant.
func (e *WithdrawalEngine) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.CycleDuration.WithLabelValues("withdrawal").Observe(time.Since(start).Seconds())
	}()

	tenants, err := e.main.ListTenants(ctx)
	if err != nil {
		return err
	}
	slog.Info("Withdrawal cycle started", "tenants", len(tenants))

	var wg sync.WaitGroup
	for _, tn := range tenants {
		tn := tn
		wg.Add(1)
		e.pool.Submit(func() {
			defer wg.Done()
			if err := e.withdrawalUnit(ctx, tn); err != nil {
				e.unitFailed("withdrawal", tn.ID, "", err)
			}
		})
	}

	wg.Wait()
	slog.Info("Withdrawal cycle finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// withdrawalUnit pays out one tenant's queued withdrawals from the
// platform's holding account.
func (e *WithdrawalEngine) withdrawalUnit(ctx context.Context, tn models.Tenant) error {
	store, err := e.tenants.Acquire(ctx, tn.ID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		slog.Debug("Tenant database missing, skipping", "tenant", tn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	pending, err := store.PendingWithdrawals(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	merchant, err := store.Merchant(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Debug("Tenant has no merchant record, skipping", "tenant", tn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	balance, err := e.ledger.GetBalance(ctx, e.cfg.PlatformAccountID)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		settled, err := e.releaseWithdrawal(ctx, store, merchant, tx, balance)
		if err != nil {
			e.unitFailed("withdrawal", tn.ID, tx.Invoice, err)
			continue
		}
		if settled {
			balance -= tx.TotalWithFee
		}
	}
	return nil
}

// releaseWithdrawal executes one queued withdrawal against the platform
// balance: gate, resolve with the platform account as source, execute, and
// finalize with a payout record plus a notification either way.
func (e *WithdrawalEngine) releaseWithdrawal(ctx context.Context, store storage.TenantStore,
	merchant *models.Merchant, tx models.Transaction, balance int64) (bool, error) {
	tmpl, err := store.TemplateByInvoice(ctx, tx.Invoice)
	if errors.Is(err, storage.ErrNotFound) {
		// No split to perform; the funds were already released elsewhere.
		// Finalize the record so the queue drains.
		slog.Debug("No routing template for withdrawal, finalizing", "invoice", tx.Invoice)
		return true, e.finalize(ctx, store, merchant, tx)
	}
	if err != nil {
		return false, err
	}

	if balance < tx.TotalWithFee {
		return false, e.balanceFailed(ctx, merchant, tx, balance)
	}

	payment := resolver.Payment{
		Reference:      tx.Invoice,
		Amount:         tx.TotalWithFee,
		FeePending:     tx.FeeStatus == models.FeeStatusPending,
		BankFee:        tx.FeeBank,
		VAT:            tx.VAT,
		Channel:        tx.Channel,
		SourceOverride: e.cfg.PlatformAccountID,
		FeeCredit:      platformFeeCredit(tmpl),
	}
	intents, err := e.resolver.Resolve(ctx, payment, tmpl)
	if err != nil {
		return false, err
	}

	outcomes, err := e.executeAll(ctx, "withdrawal", intents)
	if err != nil {
		return false, err
	}
	if !settlement.Settled(outcomes) {
		return false, e.state.ApplyOutcomes(ctx, store, tx.Invoice, outcomes)
	}

	if err := e.finalize(ctx, store, merchant, tx); err != nil {
		return true, err
	}
	return true, e.notifier.SettlementResult(ctx, notify.Payload{
		Succeeded:        true,
		Amount:           tx.TotalWithFee,
		TransactionID:    tx.Invoice,
		RemainingBalance: balance - tx.TotalWithFee,
		Destination:      merchant.Name,
	})
}

// finalize settles the withdrawal's transaction (and its parent invoice)
// and records the payout.
func (e *WithdrawalEngine) finalize(ctx context.Context, store storage.TenantStore,
	merchant *models.Merchant, tx models.Transaction) error {
	if err := store.UpdateSettlement(ctx, tx.Invoice, models.StatusSucceeded, models.SettlementSettled); err != nil {
		return err
	}
	if tx.ParentInvoice != "" {
		if err := store.UpdateSettlement(ctx, tx.ParentInvoice, models.StatusSucceeded, models.SettlementSettled); err != nil {
			return err
		}
	}
	return e.main.InsertWithdrawal(ctx, &models.Withdrawal{
		ReferenceID:       tx.Invoice,
		ChannelCode:       withdrawalChannelCode,
		AccountHolderName: merchant.Name,
		AccountNumber:     merchant.AccountID,
		Amount:            tx.TotalWithFee,
		Description:       withdrawalDescription,
		Currency:          withdrawalCurrency,
	})
}

// balanceFailed records one FAILED audit entry for an uncovered withdrawal
// (write-once, like transfer outcomes) and emits the failure notification.
func (e *WithdrawalEngine) balanceFailed(ctx context.Context, merchant *models.Merchant,
	tx models.Transaction, balance int64) error {
	net := releaseAmount(tx)

	_, err := e.main.AuditEntry(ctx, tx.Invoice, e.cfg.PlatformAccountID, models.AuditFailed)
	if err == nil {
		return nil // already recorded and notified
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	entry := &models.AuditEntry{
		TransactionRef:  tx.Invoice,
		RouteRef:        e.cfg.PlatformAccountID,
		SourceAccountID: e.cfg.PlatformAccountID,
		Status:          models.AuditFailed,
		Message: fmt.Sprintf("insufficient balance for withdrawal %s: need %d, have %d",
			tx.Invoice, tx.TotalWithFee, balance),
	}
	if err := e.main.InsertAuditEntry(ctx, entry); err != nil {
		return err
	}

	shortfall := net - balance
	if shortfall < 0 {
		shortfall = 0
	}
	return e.notifier.SettlementResult(ctx, notify.Payload{
		Succeeded:        false,
		Amount:           net,
		TransactionID:    tx.Invoice,
		RemainingBalance: balance,
		Shortfall:        shortfall,
		Destination:      merchant.Name,
	})
}

// platformFeeCredit sums the fees withheld from the non-platform legs; the
// platform leg collects them on top of its own flat amount.
func platformFeeCredit(tmpl *models.RoutingTemplate) int64 {
	var credit int64
	for _, route := range tmpl.Routes {
		if route.Target != resolver.TargetPlatform {
			credit += route.TotalFee
		}
	}
	return credit
}

// releaseAmount is what the merchant actually receives: the collected total
// minus the quick-release fees and the channel's own fee breakdown.
func releaseAmount(tx models.Transaction) int64 {
	return tx.TotalWithFee - tx.QuickReleaseFee - tx.QuickReleaseVAT - tx.FeeBank - tx.VAT
}
