// Package jwtmode mints the signed client-assertion bearer token the JWT
// auth mode uses in place of a token exchange (§4.4 JWT, §6 credentials
// shape). Grounded on the teacher's token-issuing stack.
package jwtmode

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 10 * time.Minute

// Config carries the fields a provider's JWT auth mode declares (§6):
// private key plus the registered claims to sign.
type Config struct {
	PrivateKeyPEM string
	Issuer        string
	Subject       string
	Audience      string
	KeyID         string
	TTL           time.Duration
}

// Sign builds and signs an RS256 client-assertion JWT, returning the
// compact token and its expiry.
func Sign(cfg Config, now time.Time) (token string, expiresAt time.Time, err error) {
	if cfg.PrivateKeyPEM == "" {
		return "", time.Time{}, fmt.Errorf("jwtmode: private_key is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwtmode: parse private key: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if cfg.KeyID != "" {
		tok.Header["kid"] = cfg.KeyID
	}

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwtmode: sign: %w", err)
	}
	return signed, exp, nil
}
