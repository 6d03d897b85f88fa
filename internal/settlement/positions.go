package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// DefaultDueWindow is how close to a rental's end date a position is flagged
// INCOMING.
const DefaultDueWindow = 3 * 24 * time.Hour

// AdvancePositions re-applies the position lifecycle for every slot:
//
//   - rental window expired: AVAILABLE, with start/end dates cleared and the
//     available date stamped (terminal until re-rented)
//   - end date inside the due window: INCOMING
//   - otherwise, any non-available slot: RENT
//
// Re-running against unchanged slots is a no-op beyond the status rewrite.
func (m *StateMachine) AdvancePositions(ctx context.Context, store storage.TenantStore, dueWindow time.Duration) error {
	positions, err := store.Positions(ctx)
	if err != nil {
		return fmt.Errorf("advance positions: %w", err)
	}

	now := m.now().UTC()
	for i := range positions {
		p := &positions[i]
		next := m.nextPositionState(p, now, dueWindow)
		if next == p.Status && next != models.PositionAvailable {
			continue
		}

		p.Status = next
		if next == models.PositionAvailable {
			if p.AvailableDate == nil {
				p.AvailableDate = &now
			}
			p.StartDate = nil
			p.EndDate = nil
		}
		if err := store.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("advance position %s: %w", p.ID, err)
		}
		slog.Debug("Position advanced", "position", p.Name, "status", next)
	}
	return nil
}

func (m *StateMachine) nextPositionState(p *models.Position, now time.Time, dueWindow time.Duration) models.PositionStatus {
	switch {
	case p.EndDate != nil && now.After(*p.EndDate):
		return models.PositionAvailable
	case p.EndDate != nil && now.Before(*p.EndDate) && p.EndDate.Sub(now) <= dueWindow:
		return models.PositionIncoming
	case p.Status != models.PositionAvailable:
		return models.PositionRented
	default:
		return models.PositionAvailable
	}
}
