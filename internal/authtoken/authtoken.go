// Package authtoken issues and verifies the bearer tokens that guard the control API.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/agent-keeper/internal/errs"
)

// Subject is the only subject this daemon issues tokens for.
const Subject = "control"

const leeway = 30 * time.Second

// Issuer signs and checks HS256 control tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an Issuer for key. ttl <= 0 issues tokens without expiry.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue returns a signed token and its expiry (zero when it never expires).
func (i *Issuer) Issue() (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token id: %w", err)
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:       id.String(),
		Subject:  Subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	var exp time.Time
	if i.ttl > 0 {
		exp = now.Add(i.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	return signed, exp, err
}

// Verify checks signature, algorithm, time claims and subject and returns the
// token id. Every failure wraps errs.ErrUnauthorized.
func (i *Issuer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.key, nil
	}, jwt.WithLeeway(leeway), jwt.WithTimeFunc(i.now), jwt.WithSubject(Subject))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	return claims.ID, nil
}
