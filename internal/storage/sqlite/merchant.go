package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// Merchant returns the tenant's operating record.
func (s *TenantStore) Merchant(ctx context.Context) (*models.Merchant, error) {
	var m models.Merchant
	err := s.db.QueryRowContext(ctx,
		"SELECT name, account_id, role, status FROM merchant WHERE id = 1").
		Scan(&m.Name, &m.AccountID, &m.Role, &m.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("merchant record: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	return &m, nil
}

// UpdateMerchantStatus transitions the merchant's operating status.
func (s *TenantStore) UpdateMerchantStatus(ctx context.Context, status models.MerchantStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE merchant SET status = ? WHERE id = 1", status)
	if err != nil {
		return fmt.Errorf("failed to update merchant status: %w", err)
	}
	return nil
}

// SetMerchant seeds the tenant's operating record (onboarding and tests).
func (s *TenantStore) SetMerchant(ctx context.Context, m *models.Merchant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO merchant (id, name, account_id, role, status) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, account_id = excluded.account_id,
		     role = excluded.role, status = excluded.status`,
		m.Name, m.AccountID, m.Role, m.Status)
	if err != nil {
		return fmt.Errorf("failed to set merchant: %w", err)
	}
	return nil
}

// Positions lists all rental-shelf slots.
func (s *TenantStore) Positions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, status, available_date, start_date, end_date FROM positions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		var avail, start, end sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &avail, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.AvailableDate = unixTime(avail)
		p.StartDate = unixTime(start)
		p.EndDate = unixTime(end)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return out, nil
}

// UpdatePosition persists a slot's status and window dates.
func (s *TenantStore) UpdatePosition(ctx context.Context, p *models.Position) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE positions SET status = ?, available_date = ?, start_date = ?, end_date = ? WHERE id = ?",
		p.Status, unixOrNil(p.AvailableDate), unixOrNil(p.StartDate), unixOrNil(p.EndDate), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", p.ID, err)
	}
	return nil
}

// InsertPosition seeds one slot (onboarding and tests).
func (s *TenantStore) InsertPosition(ctx context.Context, p *models.Position) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO positions (id, name, status, available_date, start_date, end_date) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Status, unixOrNil(p.AvailableDate), unixOrNil(p.StartDate), unixOrNil(p.EndDate))
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

func unixTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
