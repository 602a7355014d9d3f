// Package auth verifies bearer tokens and binds the resulting principal.
//
// Credential issuance happens in the identity service; this package only
// consumes its HS256 tokens. The principal is a typed, immutable value
// extracted once at the connection or request boundary and threaded
// explicitly through every subsequent operation. Identity is never
// re-derived from ambient state and no later message carries trusted
// identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, badly signed, and expired
// tokens. Callers map it to an Unauthenticated refusal.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated identity bound to a connection or request.
type Principal struct {
	UserID     int64
	Role       string
	Department string
}

// Claims is the JWT claim set issued by the identity service. UserID is the
// required numeric user-id claim; role and department ride along for the
// non-chat surfaces.
type Claims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates token and returns the bound principal.
// Signature, expiry, and the numeric user-id claim are all required; any
// failure is ErrInvalidToken (wrapped with the cause).
func (v *Verifier) Verify(token string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return Principal{}, fmt.Errorf("%w: missing numeric user id claim", ErrInvalidToken)
	}
	return Principal{
		UserID:     claims.UserID,
		Role:       claims.Role,
		Department: claims.Department,
	}, nil
}

// FromBearer strips the "Bearer " scheme from an Authorization header value
// and verifies the remainder. An empty or malformed header is
// ErrInvalidToken.
func (v *Verifier) FromBearer(header string) (Principal, error) {
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return Principal{}, fmt.Errorf("%w: missing bearer scheme", ErrInvalidToken)
	}
	return v.Verify(strings.TrimSpace(strings.TrimPrefix(header, scheme)))
}

// Sign issues a token for p with the given lifetime. The production issuer
// lives elsewhere; this stays for tooling and tests.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     p.UserID,
		Role:       p.Role,
		Department: p.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", p.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
