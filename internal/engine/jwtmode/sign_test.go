package jwtmode

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func TestSign_MissingPrivateKeyIsError(t *testing.T) {
	_, _, err := Sign(Config{}, time.Now())
	require.Error(t, err)
}

func TestSign_ProducesVerifiableToken(t *testing.T) {
	pemKey := testPrivateKeyPEM(t)
	now := time.Now().UTC().Truncate(time.Second)

	tokenStr, expiresAt, err := Sign(Config{
		PrivateKeyPEM: pemKey,
		Issuer:        "issuer-1",
		Subject:       "sub-1",
		Audience:      "aud-1",
		KeyID:         "kid-1",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), expiresAt)

	parsedKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return &parsedKey.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, tok.Valid)

	assert.Equal(t, "issuer-1", claims.Issuer)
	assert.Equal(t, "sub-1", claims.Subject)
	assert.Equal(t, "kid-1", tok.Header["kid"])
}

func TestSign_RespectsCustomTTL(t *testing.T) {
	pemKey := testPrivateKeyPEM(t)
	now := time.Now().UTC()

	_, expiresAt, err := Sign(Config{PrivateKeyPEM: pemKey, TTL: time.Hour}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)
}
