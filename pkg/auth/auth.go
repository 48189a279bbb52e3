// Package auth verifies the bearer tokens issued by the identity provider
// and turns them into a models.Identity.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/models"
)

// Claims is the token payload. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	admins map[string]struct{}
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		admins: admins,
	}, nil
}

// Verify parses and validates a raw token. Every failure is reported as an
// *apperrors.AuthenticationError.
func (v *Verifier) Verify(raw string) (*models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, &apperrors.AuthenticationError{Reason: reason}
	}
	if claims.Subject == "" {
		return nil, &apperrors.AuthenticationError{Reason: "token has no subject"}
	}

	id := &models.Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}
	if _, ok := v.admins[strings.ToLower(claims.Email)]; ok {
		id.Role = models.RoleAdmin
	}
	return id, nil
}

// VerifyHeader verifies an Authorization header value of the form
// "Bearer <token>".
func (v *Verifier) VerifyHeader(header string) (*models.Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, &apperrors.AuthenticationError{Reason: "missing bearer token"}
	}
	return v.Verify(token)
}

// Issue signs a token for id. It is used by tests and local tooling; in
// production tokens come from the identity provider.
func (v *Verifier) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey{}).(*models.Identity)
	return id
}
