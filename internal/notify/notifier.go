// Package notify builds and emits settlement notifications for the
// withdrawal flow. Delivery is a collaborator concern: the engine's
// obligation ends at producing the payload.
package notify

import (
	"context"
	"log/slog"
)

// Payload carries everything a delivery channel needs to render a
// settlement notification.
type Payload struct {
	// Succeeded distinguishes the success and failure notifications.
	Succeeded bool

	// Amount transferred (or attempted), in minor units.
	Amount int64

	// TransactionID is the invoice reference.
	TransactionID string

	// RemainingBalance is the holding account balance after (or at) the
	// attempt, in minor units.
	RemainingBalance int64

	// Shortfall is how much the balance was short, for failures.
	Shortfall int64

	// Destination labels the receiving side.
	Destination string
}

// Notifier delivers settlement notifications.
type Notifier interface {
	SettlementResult(ctx context.Context, p Payload) error
}

// LogNotifier emits notifications to the structured log. It stands in for
// the external mail collaborator in deployments without one.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

// SettlementResult logs the notification payload.
func (LogNotifier) SettlementResult(_ context.Context, p Payload) error {
	if p.Succeeded {
		slog.Info("Withdrawal settled",
			"transaction", p.TransactionID,
			"amount", p.Amount,
			"remaining_balance", p.RemainingBalance,
			"destination", p.Destination,
		)
		return nil
	}
	slog.Warn("Withdrawal failed",
		"transaction", p.TransactionID,
		"amount", p.Amount,
		"remaining_balance", p.RemainingBalance,
		"shortfall", p.Shortfall,
		"destination", p.Destination,
	)
	return nil
}
