package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.SoldLines(ctx, 1, store.SalesFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailedTransactionKeepsSequences(t *testing.T) {
	s := New()
	ctx := context.Background()
	create := func(sub string) (models.Tenant, error) {
		var out models.Tenant
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			out, err = tx.CreateTenant(ctx, models.Tenant{Name: sub, Subdomain: sub, Active: true})
			return err
		})
		return out, err
	}

	first, err := create("a")
	require.NoError(t, err)
	_, err = create("a")
	require.ErrorIs(t, err, runtime.ErrDuplicateKey)

	second, err := create("b")
	require.NoError(t, err)
	assert.Equal(t, first.ID+1, second.ID)

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)
}
