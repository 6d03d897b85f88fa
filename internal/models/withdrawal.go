package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal records one quick-release payout issued by the withdrawal flow.
type Withdrawal struct {
	// ID is the unique identifier for the payout (UUID format).
	ID string

	// ReferenceID is the invoice the payout settles.
	ReferenceID string

	ChannelCode       string
	AccountHolderName string
	AccountNumber     string

	// Amount in minor units.
	Amount int64

	Description string
	Currency    string

	CreatedAt time.Time
}

// FeeConfig is the platform fee configuration for one payment channel type
// ("QRIS" or "VA"), held in the main store.
type FeeConfig struct {
	// Type is the channel type key.
	Type string

	// FeePercent applies to QR channels: bank fee = amount * FeePercent/100,
	// rounded down.
	FeePercent decimal.Decimal

	// FeeFlat applies to VA channels, in minor units.
	FeeFlat int64

	// VATPercent is charged on the bank fee: rounded down for percentage
	// fees, rounded to nearest for flat fees.
	VATPercent decimal.Decimal
}

// Channel type keys for FeeConfig lookups.
const (
	FeeTypeQRIS = "QRIS"
	FeeTypeVA   = "VA"
)
