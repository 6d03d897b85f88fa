package models

import "time"

// PositionStatus is the lifecycle state of one rental-shelf slot.
type PositionStatus string

const (
	PositionAvailable PositionStatus = "AVAILABLE"
	PositionUnpaid    PositionStatus = "UNPAID"
	PositionRented    PositionStatus = "RENT"
	PositionIncoming  PositionStatus = "IN_COMING"
)

// Position is a rental-shelf slot. The cash flow advances its status each
// cycle. Invariant: StartDate and EndDate are cleared whenever the status
// becomes AVAILABLE.
type Position struct {
	ID   string
	Name string

	Status PositionStatus

	AvailableDate *time.Time
	StartDate     *time.Time
	EndDate       *time.Time
}
