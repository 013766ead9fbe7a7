package tenant

import (
	"context"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
)

type contextKey struct{}

// WithTenant returns a child context carrying a copy of t. The copy is never
// shared with other requests, so later changes to t are not observed.
func WithTenant(ctx context.Context, t models.Tenant) context.Context {
	if t.TrialEndsAt != nil {
		end := *t.TrialEndsAt
		t.TrialEndsAt = &end
	}
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the tenant stored by WithTenant.
func FromContext(ctx context.Context) (models.Tenant, error) {
	t, ok := ctx.Value(contextKey{}).(models.Tenant)
	if !ok {
		return models.Tenant{}, runtime.ErrNoTenantContext
	}
	return t, nil
}

// IDFromContext is FromContext for callers that only need the id.
func IDFromContext(ctx context.Context) (int64, error) {
	t, err := FromContext(ctx)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}
