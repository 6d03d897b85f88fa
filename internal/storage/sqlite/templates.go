package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// TemplateByInvoice retrieves the routing template keyed by invoice,
// including its routes in template order.
func (s *TenantStore) TemplateByInvoice(ctx context.Context, invoice string) (*models.RoutingTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, template_id, invoice, name, status FROM templates WHERE invoice = ?", invoice)
	return s.scanTemplate(ctx, row, invoice)
}

// ActiveTemplate retrieves the tenant-level template used for supplier-chain
// recursion. Only one active template exists per tenant.
func (s *TenantStore) ActiveTemplate(ctx context.Context) (*models.RoutingTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, template_id, invoice, name, status FROM templates WHERE status = ? LIMIT 1",
		models.TemplateStatusActive)
	return s.scanTemplate(ctx, row, "active")
}

func (s *TenantStore) scanTemplate(ctx context.Context, row *sql.Row, key string) (*models.RoutingTemplate, error) {
	var t models.RoutingTemplate
	var templateID, invoice, name sql.NullString
	err := row.Scan(&t.ID, &templateID, &invoice, &name, &t.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	t.TemplateID = templateID.String
	t.Invoice = invoice.String
	t.Name = name.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT currency, source_account_id, destination_account_id, reference_id,
		        flat_amount, percent_amount, target, role, fee_bank, total_fee, taxes
		 FROM template_routes WHERE template_id = ? ORDER BY seq`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template routes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.Currency, &r.SourceAccountID, &r.DestinationAccountID,
			&r.ReferenceID, &r.FlatAmount, &r.PercentAmount, &r.Target, &r.Role,
			&r.FeeBank, &r.TotalFee, &r.Taxes); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		t.Routes = append(t.Routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate routes: %w", err)
	}
	return &t, nil
}

// InsertTemplate seeds one routing template with its routes. Templates are
// authored by onboarding; the engine only reads them.
func (s *TenantStore) InsertTemplate(ctx context.Context, t *models.RoutingTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO templates (id, template_id, invoice, name, status) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.TemplateID, t.Invoice, t.Name, t.Status)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	for i, r := range t.Routes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO template_routes (template_id, seq, currency, source_account_id,
			     destination_account_id, reference_id, flat_amount, percent_amount,
			     target, role, fee_bank, total_fee, taxes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, i, r.Currency, r.SourceAccountID, r.DestinationAccountID,
			r.ReferenceID, r.FlatAmount, r.PercentAmount, r.Target, r.Role,
			r.FeeBank, r.TotalFee, r.Taxes)
		if err != nil {
			return fmt.Errorf("failed to insert route: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
