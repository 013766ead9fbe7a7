// Package auth verifies back office credentials and issues the bearer
// tokens staff routes require.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
)

const issuer = "tablelink"

// AuthenticatedUser is the identity attached to a staff request.
type AuthenticatedUser struct {
	ID       int64       `json:"id"`
	TenantID int64       `json:"tenant_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// IsAdmin reports whether the user administers the tenant.
func (u AuthenticatedUser) IsAdmin() bool {
	return u.Role == models.RoleAdmin
}

// UserFinder is the lookup Authenticate needs.
type UserFinder interface {
	FindUser(ctx context.Context, tenantID int64, username string) (models.User, error)
}

// Service hashes passwords and signs tokens.
type Service struct {
	users  UserFinder
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	cost   int
	log    *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCost sets the bcrypt cost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates a Service signing HS256 tokens valid for ttl.
func NewService(users UserFinder, secret string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		cost:   bcrypt.DefaultCost,
		log:    logger.Component("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash.
func (s *Service) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate checks a username and password within one tenant. Unknown
// users, inactive users and wrong passwords all fail with
// runtime.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, tenantID int64, username, password string) (AuthenticatedUser, error) {
	log := logger.WithContext(ctx, s.log).WithFields(logrus.Fields{"tenant_id": tenantID, "username": username})

	u, err := s.users.FindUser(ctx, tenantID, username)
	if errors.Is(err, runtime.ErrNotFound) {
		log.Warn("login for unknown user")
		return AuthenticatedUser{}, runtime.ErrInvalidCredentials
	}
	if err != nil {
		return AuthenticatedUser{}, runtime.Classify(err)
	}
	if !u.Active || !s.VerifyPassword(u.PasswordHash, password) {
		log.Warn("login rejected")
		return AuthenticatedUser{}, runtime.ErrInvalidCredentials
	}

	log.Info("login succeeded")
	return AuthenticatedUser{ID: u.ID, TenantID: u.TenantID, Username: u.Username, Role: u.Role}, nil
}

// Claims is the token payload.
type Claims struct {
	TenantID int64       `json:"tenant_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for u.
func (s *Service) IssueToken(u AuthenticatedUser) (string, error) {
	now := s.now()
	claims := Claims{
		TenantID: u.TenantID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its user. A token issued for
// another tenant is rejected like a forged one.
func (s *Service) ParseToken(token string, tenantID int64) (AuthenticatedUser, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("%w: %v", runtime.ErrInvalidCredentials, err)
	}
	if claims.TenantID != tenantID {
		return AuthenticatedUser{}, fmt.Errorf("%w: token belongs to another tenant", runtime.ErrInvalidCredentials)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("%w: bad subject", runtime.ErrInvalidCredentials)
	}
	return AuthenticatedUser{ID: id, TenantID: claims.TenantID, Username: claims.Username, Role: claims.Role}, nil
}

type userKey struct{}

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(userKey{}).(AuthenticatedUser)
	return u, ok
}
