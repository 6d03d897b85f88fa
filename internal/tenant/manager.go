// Package tenant manages live connections to per-tenant data stores: one
// cached connection per tenant id, single-flight creation, and idle-timeout
// eviction.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// ErrTenantNotFound is returned by Acquire when no database exists for the
// tenant id. Acquire never creates databases.
var ErrTenantNotFound = errors.New("tenant database does not exist")

// DefaultIdleTimeout is how long an unused connection stays cached.
const DefaultIdleTimeout = time.Minute

// OpenFunc opens the store backing one tenant database file.
type OpenFunc func(path string) (storage.TenantStore, error)

// Manager owns the connection cache. Safe for concurrent Acquire from many
// workers; two concurrent Acquires for the same tenant share one connection.
type Manager struct {
	dataDir     string
	open        OpenFunc
	idleTimeout time.Duration

	mu     sync.Mutex
	conns  map[string]*entry
	closed bool
}

type entry struct {
	once  sync.Once
	store storage.TenantStore
	err   error
	timer *time.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides the idle-eviction timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// NewManager builds a Manager over tenant database files named <id>.db
// under dataDir.
func NewManager(dataDir string, open OpenFunc, opts ...Option) *Manager {
	m := &Manager{
		dataDir:     dataDir,
		open:        open,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) path(tenantID string) string {
	return filepath.Join(m.dataDir, tenantID+".db")
}

// Acquire returns the live store for a tenant, connecting on first use.
// A cache hit resets the idle timer instead of reconnecting. Unknown tenants
// fail fast with ErrTenantNotFound after an existence check; no database is
// ever created here.
func (m *Manager) Acquire(ctx context.Context, tenantID string) (storage.TenantStore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("tenant manager is closed")
	}
	e, ok := m.conns[tenantID]
	if !ok {
		e = &entry{}
		m.conns[tenantID] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		if _, err := os.Stat(m.path(tenantID)); err != nil {
			e.err = fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
			return
		}
		e.store, e.err = m.open(m.path(tenantID))
		if e.err != nil {
			e.err = fmt.Errorf("connect tenant %s: %w", tenantID, e.err)
			return
		}
		slog.Debug("Connected to tenant database", "tenant", tenantID)
	})

	if e.err != nil {
		// Drop the failed entry so a later Acquire can retry.
		m.mu.Lock()
		if m.conns[tenantID] == e {
			delete(m.conns, tenantID)
		}
		m.mu.Unlock()
		return nil, e.err
	}

	m.touch(tenantID, e)
	return e.store, nil
}

// touch arms or resets the idle-eviction timer for a cached connection.
func (m *Manager) touch(tenantID string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conns[tenantID] != e {
		return
	}
	if e.timer == nil {
		e.timer = time.AfterFunc(m.idleTimeout, func() { m.evict(tenantID, e) })
	} else {
		e.timer.Reset(m.idleTimeout)
	}
}

func (m *Manager) evict(tenantID string, e *entry) {
	m.mu.Lock()
	if m.conns[tenantID] != e {
		m.mu.Unlock()
		return
	}
	delete(m.conns, tenantID)
	m.mu.Unlock()

	if err := e.store.Close(); err != nil {
		slog.Warn("Failed to close idle tenant connection", "tenant", tenantID, "error", err)
		return
	}
	slog.Debug("Evicted idle tenant connection", "tenant", tenantID)
}

// Len reports the number of cached connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close evicts every cached connection and rejects further Acquires.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]*entry)
	m.mu.Unlock()

	var firstErr error
	for id, e := range conns {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.store == nil {
			continue
		}
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tenant %s: %w", id, err)
		}
	}
	return firstErr
}
