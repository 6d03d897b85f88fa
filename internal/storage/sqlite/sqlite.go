// Package sqlite provides SQLite-backed implementations of the storage
// interfaces. Each tenant is one database file; the platform's main store is
// a separate file holding the catalog, fee configuration, and audit trail.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// Ensure the stores implement the storage interfaces
var (
	_ storage.TenantStore = (*TenantStore)(nil)
	_ storage.MainStore   = (*MainStore)(nil)
)

// TenantStore implements storage.TenantStore on one SQLite file.
type TenantStore struct {
	db *sql.DB
}

// MainStore implements storage.MainStore on the platform SQLite file.
type MainStore struct {
	db *sql.DB
}

// OpenTenant opens an existing tenant database. It runs migrations but does
// not create the file's parent directory: tenant databases are provisioned
// by onboarding, and the connection manager checks existence before calling.
func OpenTenant(dbPath string) (*TenantStore, error) {
	db, err := open(dbPath, tenantSchema)
	if err != nil {
		return nil, err
	}
	return &TenantStore{db: db}, nil
}

// OpenMain opens (creating if needed) the platform main store.
func OpenMain(dbPath string) (*MainStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := open(dbPath, mainSchema)
	if err != nil {
		return nil, err
	}
	return &MainStore{db: db}, nil
}

func open(dbPath, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (s *TenantStore) Close() error {
	return s.db.Close()
}

// Close closes the database connection.
func (s *MainStore) Close() error {
	return s.db.Close()
}
