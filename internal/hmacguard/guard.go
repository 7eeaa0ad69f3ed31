// Package hmacguard verifies the caller-supplied HMAC over
// (providerConfigKey, connectionId) when a tenant has HMAC enabled (§4.2).
package hmacguard

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
)

// Guard verifies HMAC digests against a tenant's shared secret.
type Guard struct{}

// New builds a Guard. Stateless: the secret is supplied per call, never
// cached, since it is tenant-scoped and callers already hold it from the
// IntegrationConfig lookup.
func New() *Guard { return &Guard{} }

// Canonicalize builds the byte sequence HMAC is computed over: the UTF-8
// bytes of providerConfigKey concatenated with connectionID (empty string
// if absent). No separator — this matches the source's canonicalization
// exactly and must not be changed without also changing every caller that
// signs the digest.
func Canonicalize(providerConfigKey, connectionID string) []byte {
	return []byte(providerConfigKey + connectionID)
}

// Sign computes the hex-encoded HMAC-SHA256 digest for (providerConfigKey,
// connectionID) under secret. Exposed so callers minting test fixtures (or
// an SDK) can produce a valid signature.
func Sign(secret, providerConfigKey, connectionID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(Canonicalize(providerConfigKey, connectionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the supplied hex-encoded digest against the expected HMAC
// for (providerConfigKey, connectionID) under secret, in constant time
// (§8: "no early-exit branch on equality"). hmacEnabled gates the whole
// check per-tenant; when false, Verify always succeeds without touching the
// digest — the feature is off, not merely permissive.
func Verify(hmacEnabled bool, secret, providerConfigKey, connectionID, supplied string) error {
	if !hmacEnabled {
		return nil
	}
	if supplied == "" {
		return authzerr.New(authzerr.MissingHMAC, "hmac required for provider_config_key %q", providerConfigKey)
	}
	expected := Sign(secret, providerConfigKey, connectionID)

	expectedBytes, err1 := hex.DecodeString(expected)
	suppliedBytes, err2 := hex.DecodeString(supplied)
	// Decode errors fold into the constant-time compare path: an
	// undecodable digest is simply padded to the expected length with
	// zeroes so the comparison still runs and still rejects, instead of
	// branching early on the malformed input.
	if err1 != nil {
		expectedBytes = nil
	}
	if err2 != nil {
		suppliedBytes = make([]byte, len(expectedBytes))
	}
	if len(suppliedBytes) != len(expectedBytes) {
		suppliedBytes = make([]byte, len(expectedBytes))
	}

	if subtle.ConstantTimeCompare(expectedBytes, suppliedBytes) != 1 {
		return authzerr.New(authzerr.InvalidHMAC, "hmac mismatch for provider_config_key %q", providerConfigKey)
	}
	return nil
}
