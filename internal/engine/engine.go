// Package engine fans settlement work out over tenants: it enumerates
// candidate transactions, partitions them into bounded-concurrency units of
// (tenant, transactions) work, and aggregates partial failures without
// aborting the batch.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
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

// invoicePrefix marks references this engine settles; everything else on the
// upstream feed belongs to other systems.
const invoicePrefix = "INV-"

// Config is the fan-out tuning shared by the flows.
type Config struct {
	BatchSize         int
	MaxBatches        int
	PlatformAccountID string
}

// runner holds the pieces every flow shares: intent execution, metrics, and
// unit-failure containment.
type runner struct {
	exec    *executor.Executor
	metrics *metrics.Metrics
}

// executeAll runs intents in template order, stopping on an ambiguous
// outcome so the unit can be retried from scratch next cycle.
func (r *runner) executeAll(ctx context.Context, flow string, intents []resolver.TransferIntent) ([]executor.Outcome, error) {
	outcomes := make([]executor.Outcome, 0, len(intents))
	for _, intent := range intents {
		out, err := r.exec.Execute(ctx, intent)
		if err != nil {
			return nil, err
		}
		r.metrics.Transfers.WithLabelValues(flow, out.String()).Inc()
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// unitFailed logs and counts one failed unit of work. An ambiguous executor
// failure is escalated in the log since it may need manual reconciliation.
func (r *runner) unitFailed(flow, tenantID, invoice string, err error) {
	r.metrics.UnitFailures.WithLabelValues(flow).Inc()

	var execErr *executor.ExecError
	if errors.As(err, &execErr) {
		slog.Error("Transfer outcome unknown, reconcile manually",
			"flow", flow, "tenant", tenantID, "invoice", invoice,
			"reference", execErr.Reference, "error", err)
		return
	}
	slog.Error("Unit of work failed",
		"flow", flow, "tenant", tenantID, "invoice", invoice, "error", err)
}

// Engine runs the split flow: channel-collected transactions pulled from the
// upstream feed and split per their invoice templates.
type Engine struct {
	runner
	cfg      Config
	ledger   ledger.Client
	tenants  *tenant.Manager
	main     storage.MainStore
	resolver *resolver.Resolver
	state    *settlement.StateMachine
	pool     *Pool
}

// New builds the split-flow engine.
func New(cfg Config, lc ledger.Client, tenants *tenant.Manager, main storage.MainStore,
	res *resolver.Resolver, exec *executor.Executor, state *settlement.StateMachine,
	pool *Pool, m *metrics.Metrics) *Engine {
	return &Engine{
		runner: runner{exec: exec, metrics: m},
		cfg:    cfg, ledger: lc, tenants: tenants, main: main,
		resolver: res, state: state, pool: pool,
	}
}

// eligible reports whether an upstream feed item is a settled inbound
// invoice this engine should split.
func eligible(tx ledger.Transaction) bool {
	return strings.HasPrefix(tx.ReferenceID, invoicePrefix) &&
		tx.SettlementStatus == string(models.SettlementSettled) &&
		tx.Cashflow == string(models.CashflowMoneyIn)
}

// RunCycle pulls up to MaxBatches pages of candidate transactions and
// dispatches one unit of work per (tenant, page) pair. The same upstream
// transaction id is never processed twice within a cycle; across cycles the
// executor's prior-transfer check is the guard.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.CycleDuration.WithLabelValues("split").Observe(time.Since(start).Seconds())
	}()

	tenants, err := e.main.ListTenants(ctx)
	if err != nil {
		return err
	}
	slog.Info("Split cycle started", "tenants", len(tenants))

	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	afterID := ""

	for batch := 0; batch < e.cfg.MaxBatches; batch++ {
		page, err := e.ledger.ListTransactions(ctx, ledger.ListQuery{
			Limit:   e.cfg.BatchSize,
			AfterID: afterID,
			ChannelCategories: []string{
				string(models.ChannelVirtualAccount),
				string(models.ChannelQRCode),
			},
		})
		if err != nil {
			slog.Error("Failed to pull transaction feed", "after_id", afterID, "error", err)
			break
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		var fresh []ledger.Transaction
		for _, tx := range page {
			if _, dup := seen[tx.ID]; dup || !eligible(tx) {
				continue
			}
			seen[tx.ID] = struct{}{}
			fresh = append(fresh, tx)
		}
		if len(fresh) == 0 {
			continue
		}

		for _, tn := range tenants {
			tn, txs := tn, fresh
			wg.Add(1)
			e.pool.Submit(func() {
				defer wg.Done()
				e.splitUnit(ctx, tn, txs)
			})
		}
	}

	wg.Wait()
	slog.Info("Split cycle finished", "transactions", len(seen), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// splitUnit settles one tenant's share of a transaction page. Failures are
// contained here: they are logged and counted, and sibling units proceed.
func (e *Engine) splitUnit(ctx context.Context, tn models.Tenant, txs []ledger.Transaction) {
	store, err := e.tenants.Acquire(ctx, tn.ID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		slog.Debug("Tenant database missing, skipping", "tenant", tn.ID)
		return
	}
	if err != nil {
		e.unitFailed("split", tn.ID, "", err)
		return
	}

	for _, tx := range txs {
		if err := e.settleInvoice(ctx, store, tx); err != nil {
			e.unitFailed("split", tn.ID, tx.ReferenceID, err)
		}
	}
}

// settleInvoice resolves and executes one invoice's split against one
// tenant, then advances its settlement state.
func (e *Engine) settleInvoice(ctx context.Context, store storage.TenantStore, tx ledger.Transaction) error {
	tmpl, err := store.TemplateByInvoice(ctx, tx.ReferenceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // this tenant does not own the invoice
	}
	if err != nil {
		return err
	}

	slog.Info("Processing invoice", "invoice", tx.ReferenceID, "amount", tx.Amount)

	payment := resolver.Payment{
		Reference:  tx.ReferenceID,
		Amount:     tx.Amount,
		FeePending: tx.Fee.Status == models.FeeStatusPending,
		BankFee:    tx.Fee.BankFee,
		VAT:        tx.Fee.VAT,
		Channel:    models.ChannelCategory(tx.ChannelCategory),
	}
	intents, err := e.resolver.Resolve(ctx, payment, tmpl)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return nil
	}

	outcomes, err := e.executeAll(ctx, "split", intents)
	if err != nil {
		return err
	}
	return e.state.ApplyOutcomes(ctx, store, tx.ReferenceID, outcomes)
}
