package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/ledger"
	"github.com/garapin-pos/settlement-engine/internal/metrics"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/notify"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/settlement"
	"github.com/garapin-pos/settlement-engine/internal/storage"
	"github.com/garapin-pos/settlement-engine/internal/storage/sqlite"
	"github.com/garapin-pos/settlement-engine/internal/tenant"
)

// fakeLedger is a scripted ledger for the flow tests: balances and feed
// pages are fixed, created transfers are recorded.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	pages    [][]ledger.Transaction
	existing map[string][]ledger.Transfer
	creates  []ledger.TransferRequest
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]int64),
		existing: make(map[string][]ledger.Transfer),
	}
}

func (f *fakeLedger) GetBalance(_ context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[accountID], nil
}

func (f *fakeLedger) FindTransfersByReference(_ context.Context, _, reference string) ([]ledger.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[reference], nil
}

func (f *fakeLedger) CreateTransfer(_ context.Context, req ledger.TransferRequest) (*ledger.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	f.existing[req.Reference] = []ledger.Transfer{{ID: "tr", Reference: req.Reference}}
	return &ledger.Transfer{ID: "tr", Reference: req.Reference, Status: "COMPLETED"}, nil
}

func (f *fakeLedger) ListTransactions(context.Context, ledger.ListQuery) ([]ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeLedger) createdReferences() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]string, len(f.creates))
	for i, c := range f.creates {
		refs[i] = c.Reference
	}
	return refs
}

// fakeNotifier records every payload it is asked to deliver.
type fakeNotifier struct {
	mu       sync.Mutex
	payloads []notify.Payload
}

func (f *fakeNotifier) SettlementResult(_ context.Context, p notify.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return nil
}

// testEnv wires one tenant-capable engine environment over temp databases.
type testEnv struct {
	ledger  *fakeLedger
	main    *sqlite.MainStore
	tenants *tenant.Manager
	res     *resolver.Resolver
	exec    *executor.Executor
	state   *settlement.StateMachine
	pool    *Pool
	metrics *metrics.Metrics
	dataDir string
}

func newTestEnv(t *testing.T, stateOpts ...settlement.Option) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	main, err := sqlite.OpenMain(filepath.Join(t.TempDir(), "main.db"))
	if err != nil {
		t.Fatalf("open main store: %v", err)
	}
	t.Cleanup(func() { main.Close() })

	tenants := tenant.NewManager(dataDir,
		func(path string) (storage.TenantStore, error) { return sqlite.OpenTenant(path) })
	t.Cleanup(func() { tenants.Close() })

	lc := newFakeLedger()
	pool := NewPool(1, 4)
	t.Cleanup(pool.Close)

	return &testEnv{
		ledger:  lc,
		main:    main,
		tenants: tenants,
		res:     resolver.New(NewTemplateSource(tenants), main),
		exec:    executor.New(lc, main),
		state:   settlement.New(time.UTC, stateOpts...),
		pool:    pool,
		metrics: metrics.New(prometheus.NewRegistry()),
		dataDir: dataDir,
	}
}

// seedTenant registers a tenant in the catalog, creates its database, and
// hands it to seed for fixtures.
func (e *testEnv) seedTenant(t *testing.T, id string, seed func(*sqlite.TenantStore)) {
	t.Helper()
	if err := e.main.AddTenant(context.Background(), models.Tenant{ID: id, Name: id}); err != nil {
		t.Fatalf("add tenant: %v", err)
	}
	store, err := sqlite.OpenTenant(filepath.Join(e.dataDir, id+".db"))
	if err != nil {
		t.Fatalf("create tenant database: %v", err)
	}
	defer store.Close()
	if seed != nil {
		seed(store)
	}
}

func (e *testEnv) tenantStore(t *testing.T, id string) storage.TenantStore {
	t.Helper()
	store, err := e.tenants.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("acquire tenant: %v", err)
	}
	return store
}

func splitTemplate(invoice string) *models.RoutingTemplate {
	return &models.RoutingTemplate{
		Invoice: invoice,
		Status:  "CREATED",
		Routes: []models.Route{
			{
				// Merchant share stays put.
				SourceAccountID:      "acct-m",
				DestinationAccountID: "acct-m",
				ReferenceID:          "keep",
				FlatAmount:           7000,
				Role:                 models.RoleNotMerchant,
			},
			{
				SourceAccountID:      "acct-m",
				DestinationAccountID: "acct-admin",
				ReferenceID:          "admin-cut",
				FlatAmount:           3000,
				TotalFee:             150,
				Role:                 models.RoleADMIN,
			},
		},
	}
}

func TestSplitFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedTenant(t, "tenant-1", func(store *sqlite.TenantStore) {
		if err := store.InsertTemplate(ctx, splitTemplate("INV-100")); err != nil {
			t.Fatalf("seed template: %v", err)
		}
		err := store.InsertTransaction(ctx, &models.Transaction{
			Invoice:          "INV-100",
			Status:           models.StatusPending,
			SettlementStatus: models.SettlementNotSettled,
			TotalWithFee:     10000,
			Cashflow:         models.CashflowMoneyIn,
		})
		if err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	})

	eligibleTx := ledger.Transaction{
		ID:               "txn-1",
		ReferenceID:      "INV-100",
		Amount:           10000,
		SettlementStatus: "SETTLED",
		Cashflow:         "MONEY_IN",
		ChannelCategory:  "QR_CODE",
	}
	env.ledger.pages = [][]ledger.Transaction{
		{
			eligibleTx,
			// Not this engine's reference scheme.
			{ID: "txn-2", ReferenceID: "PAYOUT-7", SettlementStatus: "SETTLED", Cashflow: "MONEY_IN"},
			// Not yet settled upstream.
			{ID: "txn-3", ReferenceID: "INV-200", SettlementStatus: "PENDING", Cashflow: "MONEY_IN"},
		},
		// The same upstream transaction appearing on a later page is
		// processed once.
		{eligibleTx},
	}

	eng := New(Config{BatchSize: 10, MaxBatches: 5, PlatformAccountID: "acct-hold"},
		env.ledger, env.tenants, env.main, env.res, env.exec, env.state, env.pool, env.metrics)
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	refs := env.ledger.createdReferences()
	if len(refs) != 1 || refs[0] != "INV-100&&admin-cut" {
		t.Fatalf("created transfers = %v, want exactly INV-100&&admin-cut", refs)
	}

	got, err := env.tenantStore(t, "tenant-1").TransactionByInvoice(ctx, "INV-100")
	if err != nil {
		t.Fatalf("TransactionByInvoice() error = %v", err)
	}
	if got.Status != models.StatusSucceeded || got.SettlementStatus != models.SettlementSettled {
		t.Errorf("transaction = %s/%s, want SUCCEEDED/SETTLED", got.Status, got.SettlementStatus)
	}

	t.Run("second cycle skips the settled transfer", func(t *testing.T) {
		env.ledger.pages = [][]ledger.Transaction{{eligibleTx}}
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
		if refs := env.ledger.createdReferences(); len(refs) != 1 {
			t.Errorf("created transfers after rerun = %v, want still one", refs)
		}
	})
}

func TestCashFlow(t *testing.T) {
	ctx := context.Background()

	seedCashTenant := func(env *testEnv) {
		env.seedTenant(t, "tenant-1", func(store *sqlite.TenantStore) {
			if err := store.SetMerchant(ctx, &models.Merchant{
				Name: "toko", AccountID: "acct-m", Role: models.RoleTRX, Status: models.MerchantActive,
			}); err != nil {
				t.Fatalf("seed merchant: %v", err)
			}
			if err := store.InsertTemplate(ctx, splitTemplate("INV-cash")); err != nil {
				t.Fatalf("seed template: %v", err)
			}
			err := store.InsertTransaction(ctx, &models.Transaction{
				Invoice:          "INV-cash",
				Status:           models.StatusPendingTransfer,
				SettlementStatus: models.SettlementNotSettled,
				PaymentMethod:    "CASH",
				TotalWithFee:     10000,
				Cashflow:         models.CashflowMoneyIn,
			})
			if err != nil {
				t.Fatalf("seed transaction: %v", err)
			}
		})
	}

	t.Run("covered balance settles out of the merchant account", func(t *testing.T) {
		env := newTestEnv(t)
		seedCashTenant(env)
		// Required payout: 10000 total minus the 7000 self-route.
		env.ledger.balances["acct-m"] = 3000

		eng := NewCash(env.ledger, env.tenants, env.main, env.res, env.exec, env.state, env.pool, env.metrics)
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}

		if len(env.ledger.creates) != 1 {
			t.Fatalf("created %d transfers, want 1", len(env.ledger.creates))
		}
		if env.ledger.creates[0].SourceUserID != "acct-m" {
			t.Errorf("transfer source = %q, want acct-m", env.ledger.creates[0].SourceUserID)
		}

		got, err := env.tenantStore(t, "tenant-1").TransactionByInvoice(ctx, "INV-cash")
		if err != nil {
			t.Fatalf("TransactionByInvoice() error = %v", err)
		}
		if got.Status != models.StatusSucceeded {
			t.Errorf("transaction status = %s, want SUCCEEDED", got.Status)
		}
	})

	t.Run("insufficient balance past cutoff locks the merchant", func(t *testing.T) {
		pastCutoff := time.Date(2026, 2, 10, 23, 45, 0, 0, time.UTC)
		env := newTestEnv(t, settlement.WithClock(func() time.Time { return pastCutoff }))
		seedCashTenant(env)
		env.ledger.balances["acct-m"] = 1000

		eng := NewCash(env.ledger, env.tenants, env.main, env.res, env.exec, env.state, env.pool, env.metrics)
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}

		if len(env.ledger.creates) != 0 {
			t.Errorf("created %d transfers with insufficient balance, want 0", len(env.ledger.creates))
		}
		merchant, err := env.tenantStore(t, "tenant-1").Merchant(ctx)
		if err != nil {
			t.Fatalf("Merchant() error = %v", err)
		}
		if merchant.Status != models.MerchantLocked {
			t.Errorf("merchant status = %s, want LOCKED", merchant.Status)
		}
	})

	t.Run("empty queue reactivates a locked merchant", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedTenant(t, "tenant-1", func(store *sqlite.TenantStore) {
			err := store.SetMerchant(ctx, &models.Merchant{
				Name: "toko", AccountID: "acct-m", Role: models.RoleTRX, Status: models.MerchantLocked,
			})
			if err != nil {
				t.Fatalf("seed merchant: %v", err)
			}
		})

		eng := NewCash(env.ledger, env.tenants, env.main, env.res, env.exec, env.state, env.pool, env.metrics)
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}

		merchant, err := env.tenantStore(t, "tenant-1").Merchant(ctx)
		if err != nil {
			t.Fatalf("Merchant() error = %v", err)
		}
		if merchant.Status != models.MerchantActive {
			t.Errorf("merchant status = %s, want ACTIVE", merchant.Status)
		}
	})
}

func TestWithdrawalFlow(t *testing.T) {
	ctx := context.Background()

	seedWithdrawalTenant := func(env *testEnv) {
		env.seedTenant(t, "tenant-1", func(store *sqlite.TenantStore) {
			if err := store.SetMerchant(ctx, &models.Merchant{
				Name: "toko", AccountID: "acct-m", Role: models.RoleTRX, Status: models.MerchantActive,
			}); err != nil {
				t.Fatalf("seed merchant: %v", err)
			}
			tmpl := &models.RoutingTemplate{
				Invoice: "INV-w",
				Status:  "CREATED",
				Routes: []models.Route{
					{
						SourceAccountID:      "acct-m",
						DestinationAccountID: "acct-m",
						ReferenceID:          "merchant-share",
						FlatAmount:           8000,
						TotalFee:             300,
						Role:                 models.RoleNotMerchant,
					},
					{
						SourceAccountID:      "acct-m",
						DestinationAccountID: "acct-platform",
						ReferenceID:          "platform-cut",
						FlatAmount:           2000,
						Target:               "platform",
						Role:                 models.RoleFEE,
					},
				},
			}
			if err := store.InsertTemplate(ctx, tmpl); err != nil {
				t.Fatalf("seed template: %v", err)
			}
			err := store.InsertTransaction(ctx, &models.Transaction{
				Invoice:          "INV-w",
				ParentInvoice:    "INV-parent",
				Status:           models.StatusPending,
				SettlementStatus: models.SettlementPendingWithdrawal,
				TotalWithFee:     10000,
				QuickReleaseFee:  500,
				QuickReleaseVAT:  55,
				Cashflow:         models.CashflowMoneyIn,
			})
			if err != nil {
				t.Fatalf("seed transaction: %v", err)
			}
			err = store.InsertTransaction(ctx, &models.Transaction{
				Invoice:          "INV-parent",
				Status:           models.StatusPendingTransfer,
				SettlementStatus: models.SettlementNotSettled,
				Cashflow:         models.CashflowMoneyIn,
			})
			if err != nil {
				t.Fatalf("seed parent transaction: %v", err)
			}
		})
	}

	cfg := Config{BatchSize: 10, MaxBatches: 5, PlatformAccountID: "acct-hold"}

	t.Run("covered balance releases from the holding account", func(t *testing.T) {
		env := newTestEnv(t)
		seedWithdrawalTenant(env)
		env.ledger.balances["acct-hold"] = 25000
		notifier := &fakeNotifier{}

		eng := NewWithdrawal(cfg, env.ledger, env.tenants, env.main, env.res, env.exec, env.state,
			notifier, env.pool, env.metrics)
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}

		// merchant-share stays on its own account (self-route); only the
		// platform leg moves, carrying the withheld fee.
		if len(env.ledger.creates) != 1 {
			t.Fatalf("created %d transfers, want 1", len(env.ledger.creates))
		}
		tr := env.ledger.creates[0]
		if tr.SourceUserID != "acct-hold" || tr.DestinationUserID != "acct-platform" {
			t.Errorf("transfer = %s -> %s, want acct-hold -> acct-platform", tr.SourceUserID, tr.DestinationUserID)
		}
		if tr.Amount != 2300 {
			t.Errorf("platform leg amount = %d, want 2300 (flat + withheld fee)", tr.Amount)
		}

		store := env.tenantStore(t, "tenant-1")
		for _, invoice := range []string{"INV-w", "INV-parent"} {
			got, err := store.TransactionByInvoice(ctx, invoice)
			if err != nil {
				t.Fatalf("TransactionByInvoice(%s) error = %v", invoice, err)
			}
			if got.Status != models.StatusSucceeded || got.SettlementStatus != models.SettlementSettled {
				t.Errorf("%s = %s/%s, want SUCCEEDED/SETTLED", invoice, got.Status, got.SettlementStatus)
			}
		}

		if len(notifier.payloads) != 1 {
			t.Fatalf("sent %d notifications, want 1", len(notifier.payloads))
		}
		p := notifier.payloads[0]
		if !p.Succeeded || p.Amount != 10000 || p.RemainingBalance != 15000 {
			t.Errorf("notification = %+v, want success, amount 10000, remaining 15000", p)
		}
	})

	t.Run("insufficient balance records one failure", func(t *testing.T) {
		env := newTestEnv(t)
		seedWithdrawalTenant(env)
		env.ledger.balances["acct-hold"] = 5000
		notifier := &fakeNotifier{}

		eng := NewWithdrawal(cfg, env.ledger, env.tenants, env.main, env.res, env.exec, env.state,
			notifier, env.pool, env.metrics)
		for i := 0; i < 2; i++ {
			if err := eng.RunCycle(ctx); err != nil {
				t.Fatalf("RunCycle() #%d error = %v", i, err)
			}
		}

		if len(env.ledger.creates) != 0 {
			t.Errorf("created %d transfers, want 0", len(env.ledger.creates))
		}
		if _, err := env.main.AuditEntry(ctx, "INV-w", "acct-hold", models.AuditFailed); err != nil {
			t.Fatalf("no FAILED audit entry: %v", err)
		}
		if len(notifier.payloads) != 1 {
			t.Fatalf("sent %d notifications across reruns, want 1", len(notifier.payloads))
		}
		p := notifier.payloads[0]
		// Net release is total minus quick-release fees: 10000-500-55.
		if p.Succeeded || p.Amount != 9445 || p.Shortfall != 4445 {
			t.Errorf("notification = %+v, want failure, amount 9445, shortfall 4445", p)
		}
	})

	t.Run("missing template finalizes the queue entry", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedTenant(t, "tenant-1", func(store *sqlite.TenantStore) {
			if err := store.SetMerchant(ctx, &models.Merchant{
				Name: "toko", AccountID: "acct-m", Role: models.RoleTRX, Status: models.MerchantActive,
			}); err != nil {
				t.Fatalf("seed merchant: %v", err)
			}
			err := store.InsertTransaction(ctx, &models.Transaction{
				Invoice:          "INV-naked",
				Status:           models.StatusPending,
				SettlementStatus: models.SettlementPendingWithdrawal,
				TotalWithFee:     4000,
				Cashflow:         models.CashflowMoneyIn,
			})
			if err != nil {
				t.Fatalf("seed transaction: %v", err)
			}
		})
		env.ledger.balances["acct-hold"] = 100000

		eng := NewWithdrawal(cfg, env.ledger, env.tenants, env.main, env.res, env.exec, env.state,
			&fakeNotifier{}, env.pool, env.metrics)
		if err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}

		if len(env.ledger.creates) != 0 {
			t.Errorf("created %d transfers without a template, want 0", len(env.ledger.creates))
		}
		got, err := env.tenantStore(t, "tenant-1").TransactionByInvoice(ctx, "INV-naked")
		if err != nil {
			t.Fatalf("TransactionByInvoice() error = %v", err)
		}
		if got.SettlementStatus != models.SettlementSettled {
			t.Errorf("settlement status = %s, want SETTLED", got.SettlementStatus)
		}
	})
}
