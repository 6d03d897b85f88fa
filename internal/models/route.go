package models

// RouteRole classifies one leg of a split. The resolver handles every role
// explicitly; an unknown role is a template authoring error.
type RouteRole string

const (
	RoleTRX         RouteRole = "TRX"
	RoleSUPP        RouteRole = "SUPP"
	RoleFEE         RouteRole = "FEE"
	RoleADMIN       RouteRole = "ADMIN"
	RoleNotMerchant RouteRole = "NOT_MERCHANT"
)

// Valid reports whether r is one of the closed set of route roles.
func (r RouteRole) Valid() bool {
	switch r {
	case RoleTRX, RoleSUPP, RoleFEE, RoleADMIN, RoleNotMerchant:
		return true
	}
	return false
}

// TemplateStatusActive marks a tenant-level template as eligible for
// child-split recursion.
const TemplateStatusActive = "ACTIVE"

// Route is one leg of a split: who pays whom, how much, and in what role.
// When Role is TRX or SUPP, ReferenceID also names the tenant that owns the
// child routing template to recurse into.
type Route struct {
	Currency             string
	SourceAccountID      string
	DestinationAccountID string

	// ReferenceID is the transfer-idempotency suffix for this leg and,
	// for TRX/SUPP roles, the child tenant identifier.
	ReferenceID string

	// FlatAmount is the leg's base amount in minor units.
	FlatAmount int64

	// PercentAmount is the share this leg represents, informational only;
	// FlatAmount is always pre-computed by the template author.
	PercentAmount float64

	// Target labels the receiving side ("platform" for the platform's own
	// account); the withdrawal flow folds collected fees into that leg.
	Target string

	Role RouteRole

	// Pre-computed fee breakdown for this leg, in minor units.
	// TotalFee = FeeBank + tax when the upstream fee is final.
	FeeBank  int64
	TotalFee int64
	Taxes    bool
}

// SelfRoute reports whether the route moves money to its own source (or
// nowhere). Self-routes never produce a transfer.
func (r Route) SelfRoute() bool {
	return r.DestinationAccountID == "" || r.DestinationAccountID == r.SourceAccountID
}

// RoutingTemplate is a named, ordered split rule. Templates keyed by invoice
// drive one transaction's split; the tenant-level template (keyed by name,
// Status ACTIVE) drives supplier-chain recursion. Templates are immutable
// inputs: the engine only reads them.
type RoutingTemplate struct {
	ID         string
	TemplateID string
	Invoice    string
	Name       string
	Status     string
	Routes     []Route
}
