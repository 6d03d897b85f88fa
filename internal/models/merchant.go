package models

// MerchantStatus is a merchant's operating status. The balance-gated cash
// flow locks merchants that end the day unable to cover their payouts.
type MerchantStatus string

const (
	MerchantActive        MerchantStatus = "ACTIVE"
	MerchantLocked        MerchantStatus = "LOCKED"
	MerchantPendingActive MerchantStatus = "PENDING_ACTIVE"
)

// Merchant is the tenant's own operating record: the ledger account that
// holds its funds and its current operating status.
type Merchant struct {
	Name      string
	AccountID string
	Role      RouteRole
	Status    MerchantStatus
}

// Tenant identifies one merchant data store in the catalog.
type Tenant struct {
	// ID locates the tenant's isolated database.
	ID string

	Name string
}
