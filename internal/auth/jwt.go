// Package auth verifies the bearer tokens issued by the identity provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrMissingClaims = errors.New("missing required claims")
)

// RoleAdmin is the app_metadata role that unlocks operator endpoints.
const RoleAdmin = "admin"

// Claims are the claims this service reads from an access token. The
// layout matches Supabase-style tokens: the subject is the user id and
// privileged roles live in app_metadata, which end users cannot edit.
type Claims struct {
	jwt.RegisteredClaims
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// IsAdmin reports whether app_metadata.role is admin.
func (c *Claims) IsAdmin() bool {
	if c.AppMetadata == nil {
		return false
	}
	role, _ := c.AppMetadata["role"].(string)
	return role == RoleAdmin
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// VerifyToken verifies signature, expiry and required claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}

// Sign issues a token for the given claims. Used by tests and local tooling.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
