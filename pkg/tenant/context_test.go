package tenant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
)

func TestFromContextWithoutTenant(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, runtime.ErrNoTenantContext)

	_, err = IDFromContext(context.Background())
	assert.ErrorIs(t, err, runtime.ErrNoTenantContext)
}

func TestWithTenantCopiesValue(t *testing.T) {
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tn := models.Tenant{ID: 4, Subdomain: "acme", TrialEndsAt: &end}
	ctx := WithTenant(context.Background(), tn)

	tn.Subdomain = "changed"
	end = end.AddDate(1, 0, 0)

	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Subdomain)
	assert.Equal(t, 2025, got.TrialEndsAt.Year())
}

func TestContextDoesNotLeakAcrossRequests(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan string, 200)

	for i := range 200 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx := WithTenant(context.Background(), models.Tenant{ID: id})
			for range 50 {
				got, err := IDFromContext(ctx)
				if err != nil || got != id {
					errs <- "leak"
					return
				}
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	assert.Empty(t, errs)
}
