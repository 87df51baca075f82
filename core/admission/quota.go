package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgeq/forgeq/core/identity"
)

var (
	// ErrQuotaExceeded indicates the identity's monthly ceiling is spent.
	ErrQuotaExceeded = errors.New("quota_exceeded")
	// ErrRateLimited indicates the token bucket refused the request.
	ErrRateLimited = errors.New("rate_limited")
)

// Quota gates submissions against per-identity monthly ceilings. The
// underlying store performs the compare-and-increment atomically.
type Quota struct {
	store identity.Store
	plans map[identity.Plan]identity.PlanLimits
}

// NewQuota constructs a quota gate over an identity store and plan table.
func NewQuota(store identity.Store, plans map[identity.Plan]identity.PlanLimits) *Quota {
	return &Quota{store: store, plans: plans}
}

// Reserve consumes one unit of the identity's monthly allowance. On
// ErrQuotaExceeded nothing is consumed. Unlimited plans always succeed.
func (q *Quota) Reserve(ctx context.Context, ident identity.Identity) (int, error) {
	limits := identity.Limits(q.plans, ident.Plan)
	used, err := q.store.Reserve(ctx, ident.APIKey, limits.TasksPerMonth)
	if err != nil {
		if errors.Is(err, identity.ErrLimitReached) {
			return used, fmt.Errorf("%w: %d/%d tasks used this month", ErrQuotaExceeded, used, limits.TasksPerMonth)
		}
		return used, err
	}
	return used, nil
}

// Release undoes a reservation whose submission was refused downstream, so an
// admission failure leaves no lasting side effects.
func (q *Quota) Release(ctx context.Context, ident identity.Identity) error {
	return q.store.Release(ctx, ident.APIKey)
}

// Limits resolves the identity's plan parameters.
func (q *Quota) Limits(plan identity.Plan) identity.PlanLimits {
	return identity.Limits(q.plans, plan)
}
