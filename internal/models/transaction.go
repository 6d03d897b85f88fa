package models

// TransactionStatus is the lifecycle tag on a tenant transaction record.
type TransactionStatus string

const (
	StatusPending         TransactionStatus = "PENDING"
	StatusPendingTransfer TransactionStatus = "PENDING_TRANSFER"
	StatusSucceeded       TransactionStatus = "SUCCEEDED"
)

// SettlementStatus tracks whether the split transfers for a transaction
// have been confirmed on the ledger.
type SettlementStatus string

const (
	SettlementNotSettled        SettlementStatus = "NOT_SETTLED"
	SettlementSettled           SettlementStatus = "SETTLED"
	SettlementPendingWithdrawal SettlementStatus = "PENDING_WITHDRAWAL"
)

// Cashflow is the direction of money movement on an upstream transaction.
type Cashflow string

const CashflowMoneyIn Cashflow = "MONEY_IN"

// ChannelCategory identifies the payment channel a transaction came in on.
// Fee configuration is keyed by channel.
type ChannelCategory string

const (
	ChannelVirtualAccount ChannelCategory = "VIRTUAL_ACCOUNT"
	ChannelQRCode         ChannelCategory = "QR_CODE"
)

// FeeStatusPending marks a transaction whose fee breakdown has not been
// finalized upstream; the resolver must compute fees from FeeConfig instead.
const FeeStatusPending = "PENDING"

// Transaction is a collected payment persisted in a tenant data store.
// It is created by the inbound-payment path and mutated only by the
// settlement state machine; the engine never deletes it.
type Transaction struct {
	// Invoice is the unique invoice reference (e.g. "INV-123").
	Invoice string

	// ParentInvoice links a child split back to its parent invoice.
	// Empty for top-level transactions.
	ParentInvoice string

	InvoiceLabel string

	Status           TransactionStatus
	SettlementStatus SettlementStatus

	// PaymentMethod distinguishes the cash flow ("CASH") from
	// channel-collected payments.
	PaymentMethod string

	// TotalWithFee is the collected amount including fees, in minor units.
	TotalWithFee int64

	// FeeBank and VAT are the pre-computed fee breakdown, in minor units.
	FeeBank int64
	VAT     int64

	// QuickReleaseFee and QuickReleaseVAT apply to the withdrawal flow only.
	QuickReleaseFee int64
	QuickReleaseVAT int64

	// FeeStatus is FeeStatusPending until the upstream fee breakdown is final.
	FeeStatus string

	Channel  ChannelCategory
	Cashflow Cashflow
}
