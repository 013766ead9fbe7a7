package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/memory"
)

var issued = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, models.Tenant) {
	t.Helper()
	s := memory.New()
	svc := NewService(s, "secret", time.Hour, WithCost(bcrypt.MinCost), WithClock(func() time.Time { return issued }))

	hash, err := svc.HashPassword("s3cret")
	require.NoError(t, err)

	var ten models.Tenant
	err = s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if ten, err = tx.CreateTenant(ctx, models.Tenant{Name: "Demo", Subdomain: "demo", Plan: models.PlanTrial, Active: true}); err != nil {
			return err
		}
		if _, err := tx.CreateUser(ctx, models.User{TenantID: ten.ID, Username: "admin", PasswordHash: hash, Role: models.RoleAdmin, Active: true}); err != nil {
			return err
		}
		_, err := tx.CreateUser(ctx, models.User{TenantID: ten.ID, Username: "gone", PasswordHash: hash, Role: models.RoleWaiter, Active: false})
		return err
	})
	require.NoError(t, err)
	return svc, ten
}

func TestAuthenticate(t *testing.T) {
	svc, ten := newService(t)
	ctx := context.Background()

	u, err := svc.Authenticate(ctx, ten.ID, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.True(t, u.IsAdmin())
	assert.Equal(t, ten.ID, u.TenantID)

	for _, tc := range []struct{ tenant int64; user, pass string }{
		{ten.ID, "admin", "wrong"},
		{ten.ID, "nobody", "s3cret"},
		{ten.ID, "gone", "s3cret"},
		{ten.ID + 1, "admin", "s3cret"},
	} {
		_, err := svc.Authenticate(ctx, tc.tenant, tc.user, tc.pass)
		assert.ErrorIs(t, err, runtime.ErrInvalidCredentials, tc.user)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc, ten := newService(t)
	user := AuthenticatedUser{ID: 7, TenantID: ten.ID, Username: "admin", Role: models.RoleAdmin}

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	got, err := svc.ParseToken(token, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = svc.ParseToken(token, ten.ID+1)
	assert.ErrorIs(t, err, runtime.ErrInvalidCredentials)
}

func TestParseTokenRejects(t *testing.T) {
	svc, ten := newService(t)
	user := AuthenticatedUser{ID: 1, TenantID: ten.ID, Username: "admin", Role: models.RoleAdmin}
	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	later := NewService(nil, "secret", time.Hour, WithClock(func() time.Time { return issued.Add(2 * time.Hour) }))
	_, err = later.ParseToken(token, ten.ID)
	assert.ErrorIs(t, err, runtime.ErrInvalidCredentials, "expired")

	other := NewService(nil, "another-secret", time.Hour, WithClock(func() time.Time { return issued }))
	_, err = other.ParseToken(token, ten.ID)
	assert.ErrorIs(t, err, runtime.ErrInvalidCredentials, "wrong key")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: ten.ID}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ParseToken(none, ten.ID)
	assert.ErrorIs(t, err, runtime.ErrInvalidCredentials, "unsigned")

	_, err = svc.ParseToken("garbage", ten.ID)
	assert.ErrorIs(t, err, runtime.ErrInvalidCredentials)
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	u := AuthenticatedUser{ID: 3, Username: "w", Role: models.RoleWaiter}
	got, ok := UserFromContext(WithUser(context.Background(), u))
	require.True(t, ok)
	assert.Equal(t, u, got)
	assert.False(t, got.IsAdmin())
}
