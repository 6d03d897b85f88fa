package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/ledger"
	"github.com/garapin-pos/settlement-engine/internal/metrics"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/settlement"
	"github.com/garapin-pos/settlement-engine/internal/storage"
	"github.com/garapin-pos/settlement-engine/internal/tenant"
)

// cashPaymentMethod selects the transactions the cash flow settles.
const cashPaymentMethod = "CASH"

// CashEngine runs the balance-gated cash flow: transactions collected
// outside the payment channels sit in the tenant store as PENDING_TRANSFER
// until the merchant's own account can cover the payout. Merchants that end
// the day unable to cover are locked; clearing the queue reactivates them.
type CashEngine struct {
	runner
	ledger   ledger.Client
	tenants  *tenant.Manager
	main     storage.MainStore
	resolver *resolver.Resolver
	state    *settlement.StateMachine
	pool     *Pool
}

// NewCash builds the cash-flow engine.
func NewCash(lc ledger.Client, tenants *tenant.Manager, main storage.MainStore,
	res *resolver.Resolver, exec *executor.Executor, state *settlement.StateMachine,
	pool *Pool, m *metrics.Metrics) *CashEngine {
	return &CashEngine{
		runner: runner{exec: exec, metrics: m},
		ledger: lc, tenants: tenants, main: main,
		resolver: res, state: state, pool: pool,
	}
}

// RunCycle dispatches one unit of work per tenant. Tenants are independent:
// one tenant's failure never blocks the others.
func (e *CashEngine) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.CycleDuration.WithLabelValues("cash").Observe(time.Since(start).Seconds())
	}()

	tenants, err := e.main.ListTenants(ctx)
	if err != nil {
		return err
	}
	slog.Info("Cash cycle started", "tenants", len(tenants))

	var wg sync.WaitGroup
	for _, tn := range tenants {
		tn := tn
		wg.Add(1)
		e.pool.Submit(func() {
			defer wg.Done()
			if err := e.cashUnit(ctx, tn); err != nil {
				e.unitFailed("cash", tn.ID, "", err)
			}
		})
	}

	wg.Wait()
	slog.Info("Cash cycle finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// cashUnit settles one tenant's pending cash queue against its own account
// balance, then advances the merchant status and rental positions.
func (e *CashEngine) cashUnit(ctx context.Context, tn models.Tenant) error {
	store, err := e.tenants.Acquire(ctx, tn.ID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		slog.Debug("Tenant database missing, skipping", "tenant", tn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	merchant, err := store.Merchant(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Debug("Tenant has no merchant record, skipping", "tenant", tn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	pending, err := store.PendingTransactions(ctx, models.StatusPendingTransfer, cashPaymentMethod)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		if err := e.state.Reactivate(ctx, store, merchant); err != nil {
			return err
		}
		return e.state.AdvancePositions(ctx, store, settlement.DefaultDueWindow)
	}

	balance, err := e.ledger.GetBalance(ctx, merchant.AccountID)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		settled, payout, err := e.settleCash(ctx, store, merchant, tx, balance)
		if err != nil {
			e.unitFailed("cash", tn.ID, tx.Invoice, err)
			continue
		}
		if settled {
			balance -= payout
		}
	}

	return e.state.AdvancePositions(ctx, store, settlement.DefaultDueWindow)
}

// settleCash gates one cash transaction on the merchant's remaining balance
// and, when covered, resolves and executes its split out of the merchant's
// account. Returns whether the payout went through and how much it drew.
func (e *CashEngine) settleCash(ctx context.Context, store storage.TenantStore,
	merchant *models.Merchant, tx models.Transaction, balance int64) (bool, int64, error) {
	tmpl, err := store.TemplateByInvoice(ctx, tx.Invoice)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Debug("No routing template for cash invoice, skipping", "invoice", tx.Invoice)
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	payout := resolver.RequiredPayout(tx.TotalWithFee, tmpl)
	if payout > balance {
		slog.Warn("Insufficient balance for cash payout",
			"invoice", tx.Invoice, "required", payout, "balance", balance, "merchant", merchant.Name)
		_, err := e.state.LockIfPastCutoff(ctx, store, merchant)
		return false, 0, err
	}

	payment := resolver.Payment{
		Reference:      tx.Invoice,
		Amount:         tx.TotalWithFee,
		FeePending:     tx.FeeStatus == models.FeeStatusPending,
		BankFee:        tx.FeeBank,
		VAT:            tx.VAT,
		Channel:        tx.Channel,
		SourceOverride: merchant.AccountID,
	}
	intents, err := e.resolver.Resolve(ctx, payment, tmpl)
	if err != nil {
		return false, 0, err
	}
	if len(intents) == 0 {
		return false, 0, nil
	}

	outcomes, err := e.executeAll(ctx, "cash", intents)
	if err != nil {
		return false, 0, err
	}
	if err := e.state.ApplyOutcomes(ctx, store, tx.Invoice, outcomes); err != nil {
		return false, 0, err
	}
	return settlement.Settled(outcomes), payout, nil
}
