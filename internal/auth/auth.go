package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/repository"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// PrincipalStore resolves a user id to the caller's role and party ids
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, userID string) (*models.Principal, error)
}

// Authenticator verifies HS256 session tokens. The role always comes from a
// live lookup, never from the token, so role changes apply immediately.
type Authenticator struct {
	secret     []byte
	issuer     string
	principals PrincipalStore
	logger     logger.Logger
}

// NewAuthenticator creates a new Authenticator. An empty issuer disables the
// issuer check.
func NewAuthenticator(secret, issuer string, principals PrincipalStore, logger logger.Logger) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		issuer:     issuer,
		principals: principals,
		logger:     logger,
	}
}

// Authenticate resolves the Authorization header value to a principal
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*models.Principal, error) {
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}

	userID, err := a.verify(token)
	if err != nil {
		a.logger.Debug("Rejected session token", "error", err)
		return nil, apperrors.NewUnauthorizedError("Invalid or expired session")
	}

	principal, err := a.principals.GetPrincipal(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorizedError("Unknown user")
		}
		a.logger.Error("Failed to resolve principal", "error", err, "userID", userID)
		return nil, apperrors.NewInternalError("An unexpected error occurred")
	}

	return principal, nil
}

func (a *Authenticator) verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return claims.Subject, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorizedError("Missing authorization")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apperrors.NewUnauthorizedError("Invalid authorization header")
	}

	return parts[1], nil
}

type contextKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the authenticated caller, if any
func FromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*models.Principal)
	return p, ok && p != nil
}
