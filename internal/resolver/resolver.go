// Package resolver expands a routing template into the ordered sequence of
// transfer intents needed to settle one transaction, recursively following
// supplier chains into child tenant templates.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// ErrRoutingCycle is returned when supplier-chain recursion exceeds the
// depth bound. Template authors can reference each other cyclically; the
// bound is what guarantees termination.
var ErrRoutingCycle = errors.New("routing template recursion exceeds depth bound")

// DefaultMaxDepth bounds supplier-chain recursion.
const DefaultMaxDepth = 32

// ReferenceSeparator joins the transaction and route references into the
// transfer idempotency key.
const ReferenceSeparator = "&&"

// Payment is the resolver's view of the transaction being split.
type Payment struct {
	// Reference is the transaction's invoice reference.
	Reference string

	// Amount is the collected amount in minor units.
	Amount int64

	// FeePending is true while the upstream fee breakdown is not final;
	// fees are then computed from configuration instead of the pre-computed
	// route fields.
	FeePending bool

	// BankFee and VAT are the transaction's final fee breakdown, used when
	// a route carries no pre-computed total fee.
	BankFee int64
	VAT     int64

	Channel models.ChannelCategory

	// SourceOverride, when set, replaces the source account on top-level
	// routes (the cash and withdrawal flows pay out of one holding account).
	// Child-template intents always use their own route's source.
	SourceOverride string

	// FeeCredit is added to the top-level platform route's amount instead
	// of a fee deduction (withdrawal flow: the platform leg collects the
	// fees withheld from the other legs).
	FeeCredit int64
}

// TransferIntent is one derived, not-yet-executed fund movement.
type TransferIntent struct {
	SourceAccountID      string
	DestinationAccountID string

	// Amount in minor units.
	Amount int64

	// Reference is the idempotency key: txRef + "&&" + routeRef.
	Reference string

	// TransactionRef and RouteRef are the audit-entry key components.
	TransactionRef string
	RouteRef       string

	Role models.RouteRole
}

// TemplateSource loads routing templates from tenant stores. Implementations
// are backed by the tenant connection manager.
type TemplateSource interface {
	// ActiveTemplate returns the tenant-level template for tenantID, or
	// storage.ErrNotFound (including when the tenant itself is unknown).
	ActiveTemplate(ctx context.Context, tenantID string) (*models.RoutingTemplate, error)

	// TemplateByInvoice returns the invoice-keyed split template held by
	// tenantID, or storage.ErrNotFound.
	TemplateByInvoice(ctx context.Context, tenantID, invoice string) (*models.RoutingTemplate, error)
}

// Resolver turns (transaction, template) into transfer intents. All derived
// money movement is reproducible from those two inputs alone; the resolver
// never mutates templates.
type Resolver struct {
	templates TemplateSource
	fees      FeeSource
	maxDepth  int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth overrides the recursion depth bound.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) { r.maxDepth = n }
}

// New builds a Resolver.
func New(templates TemplateSource, fees FeeSource, opts ...Option) *Resolver {
	r := &Resolver{templates: templates, fees: fees, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands the template into transfer intents in template order.
// Self-routes (destination empty or equal to the effective source) are
// skipped. TRX and SUPP routes additionally pull in the referenced child
// tenant's supplier chain.
func (r *Resolver) Resolve(ctx context.Context, p Payment, tmpl *models.RoutingTemplate) ([]TransferIntent, error) {
	var intents []TransferIntent

	for _, route := range tmpl.Routes {
		if !route.Role.Valid() {
			return nil, fmt.Errorf("template %s route %s: unknown role %q", tmpl.ID, route.ReferenceID, route.Role)
		}

		source := route.SourceAccountID
		if p.SourceOverride != "" {
			source = p.SourceOverride
		}

		if route.DestinationAccountID == "" || route.DestinationAccountID == source ||
			route.DestinationAccountID == route.SourceAccountID {
			// Self-route: funds stay put, nothing to transfer.
		} else {
			amount, err := r.rootAmount(ctx, p, route)
			if err != nil {
				return nil, err
			}
			intents = append(intents, TransferIntent{
				SourceAccountID:      source,
				DestinationAccountID: route.DestinationAccountID,
				Amount:               amount,
				Reference:            p.Reference + ReferenceSeparator + route.ReferenceID,
				TransactionRef:       p.Reference,
				RouteRef:             route.ReferenceID,
				Role:                 route.Role,
			})
		}

		if route.Role == models.RoleTRX || route.Role == models.RoleSUPP {
			children, err := r.resolveChild(ctx, p, route, 1)
			if err != nil {
				return nil, err
			}
			intents = append(intents, children...)
		}
	}

	return intents, nil
}

// rootAmount computes a top-level route's transfer amount per the fee rule.
func (r *Resolver) rootAmount(ctx context.Context, p Payment, route models.Route) (int64, error) {
	if p.FeeCredit > 0 && route.Target == TargetPlatform {
		return route.FlatAmount + p.FeeCredit, nil
	}
	fee, err := r.feeFor(ctx, p, route)
	if err != nil {
		return 0, err
	}
	return route.FlatAmount - fee, nil
}

// TargetPlatform labels the platform's own leg of a split.
const TargetPlatform = "platform"

// resolveChild follows a TRX/SUPP route into the child tenant named by its
// reference id: the child's active template points at supplier tenants, and
// each supplier's invoice-keyed split contributes SUPP and FEE intents using
// the sub-route's own source account. Recursion continues while sub-routes
// are SUPP, bounded by maxDepth.
func (r *Resolver) resolveChild(ctx context.Context, p Payment, parent models.Route, depth int) ([]TransferIntent, error) {
	if depth > r.maxDepth {
		return nil, fmt.Errorf("%w: route %s at depth %d", ErrRoutingCycle, parent.ReferenceID, depth)
	}

	tmpl, err := r.templates.ActiveTemplate(ctx, parent.ReferenceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load child template %s: %w", parent.ReferenceID, err)
	}
	if tmpl.Status != models.TemplateStatusActive {
		return nil, nil
	}

	var intents []TransferIntent
	for _, supplier := range tmpl.Routes {
		if supplier.Role != models.RoleSUPP {
			continue
		}

		split, err := r.templates.TemplateByInvoice(ctx, supplier.ReferenceID, p.Reference)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load supplier split %s: %w", supplier.ReferenceID, err)
		}

		for _, sub := range split.Routes {
			if sub.Role != models.RoleSUPP && sub.Role != models.RoleFEE {
				continue
			}
			if !sub.SelfRoute() {
				intents = append(intents, TransferIntent{
					SourceAccountID:      sub.SourceAccountID,
					DestinationAccountID: sub.DestinationAccountID,
					Amount:               sub.FlatAmount - sub.TotalFee,
					Reference:            p.Reference + ReferenceSeparator + sub.ReferenceID,
					TransactionRef:       p.Reference,
					RouteRef:             sub.ReferenceID,
					Role:                 sub.Role,
				})
			}

			if sub.Role == models.RoleSUPP {
				deeper, err := r.resolveChild(ctx, p, sub, depth+1)
				if err != nil {
					return nil, err
				}
				intents = append(intents, deeper...)
			}
		}
	}

	return intents, nil
}

// RequiredPayout is the total a tenant's balance must cover before the
// balance-gated flows will transfer anything: the collected total minus the
// legs that stay on the source account.
func RequiredPayout(totalWithFee int64, tmpl *models.RoutingTemplate) int64 {
	var self int64
	for _, route := range tmpl.Routes {
		if route.DestinationAccountID == route.SourceAccountID {
			self += route.FlatAmount
		}
	}
	return totalWithFee - self
}
