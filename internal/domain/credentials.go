package domain

import (
	"fmt"
	"strconv"
	"time"
)

// CredentialType discriminates the tagged Credentials union. Serialization
// to/from the credential store always carries this explicit discriminator
// rather than relying on which fields are non-zero.
type CredentialType string

const (
	CredentialOAuth2    CredentialType = "OAUTH2"
	CredentialOAuth1    CredentialType = "OAUTH1"
	CredentialAPIKey    CredentialType = "API_KEY"
	CredentialBasic     CredentialType = "BASIC"
	CredentialTba       CredentialType = "TBA"
	CredentialJwt       CredentialType = "JWT"
	CredentialSignature CredentialType = "SIGNATURE"
	CredentialTableau   CredentialType = "TABLEAU"
	CredentialBill      CredentialType = "BILL"
	CredentialAppStore  CredentialType = "APP_STORE"
	CredentialTwoStep   CredentialType = "TWO_STEP"
)

// Credentials is a sealed tagged union over auth modes. Only the fields for
// Type are meaningful; the rest are zero. Never logged (§3 invariant) —
// callers must go through Redacted() before writing to any log sink.
type Credentials struct {
	Type CredentialType `json:"type"`

	OAuth2 *OAuth2Credentials `json:"oauth2,omitempty"`
	OAuth1 *OAuth1Credentials `json:"oauth1,omitempty"`
	APIKey *APIKeyCredentials `json:"api_key,omitempty"`
	Basic  *BasicCredentials  `json:"basic,omitempty"`

	// Opaque carries the mode-specific shape for Tba/Jwt/Signature/Tableau/
	// Bill/AppStore/TwoStep: these modes vary enough across providers that
	// the broker stores them as a free-form map rather than growing a new
	// Go type per provider quirk.
	Opaque map[string]any `json:"opaque,omitempty"`
}

// OAuth2Credentials is the OAuth2 variant (§3).
type OAuth2Credentials struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"` // always UTC
	Raw          map[string]any `json:"raw,omitempty"`
	ConfigOverride *ConfigOverride `json:"config_override,omitempty"`
}

// ConfigOverride is the per-session client-id/secret/scopes override applied
// on start and re-applied on finish and on every subsequent refresh (§4.4
// step 2, Open Question #1: overrides are honored at refresh time too,
// because they are re-derived from the persisted ConfigOverride rather than
// re-read from the original start request).
type ConfigOverride struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Scopes       string `json:"scopes,omitempty"`
}

// OAuth1Credentials is the OAuth1 variant (§3).
type OAuth1Credentials struct {
	OAuthToken       string `json:"oauth_token"`
	OAuthTokenSecret string `json:"oauth_token_secret"`
}

// APIKeyCredentials is the API_KEY variant.
type APIKeyCredentials struct {
	APIKey string `json:"api_key"`
}

// BasicCredentials is the BASIC variant.
type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Redacted returns a copy safe to log: secrets are replaced with a fixed
// placeholder, only shape/presence survives.
func (c Credentials) Redacted() map[string]any {
	out := map[string]any{"type": string(c.Type)}
	switch c.Type {
	case CredentialOAuth2:
		if c.OAuth2 != nil {
			out["has_refresh_token"] = c.OAuth2.RefreshToken != ""
			out["expires_at"] = c.OAuth2.ExpiresAt
		}
	case CredentialOAuth1:
		out["has_token"] = c.OAuth1 != nil && c.OAuth1.OAuthToken != ""
	case CredentialAPIKey:
		out["has_api_key"] = c.APIKey != nil && c.APIKey.APIKey != ""
	case CredentialBasic:
		out["has_username"] = c.Basic != nil && c.Basic.Username != ""
	default:
		out["opaque_keys"] = keysOf(c.Opaque)
	}
	return out
}

// ParseOAuth2Credentials builds an OAuth2Credentials value from a token
// endpoint's decoded JSON response. previous, when non-nil, supplies the
// refresh_token to carry forward when resp omits one, and expires_at is left
// unset (nil) when resp omits expires_in rather than inheriting the old
// value (§8 refresh invariant).
func ParseOAuth2Credentials(resp map[string]any, previous *OAuth2Credentials, now time.Time) (*Credentials, error) {
	accessToken, _ := resp["access_token"].(string)
	if accessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	refreshToken, _ := resp["refresh_token"].(string)
	if refreshToken == "" && previous != nil {
		refreshToken = previous.RefreshToken
	}

	var expiresAt *time.Time
	if secs, ok := numberValue(resp["expires_in"]); ok {
		t := now.Add(time.Duration(secs) * time.Second).UTC()
		expiresAt = &t
	}

	return &Credentials{
		Type: CredentialOAuth2,
		OAuth2: &OAuth2Credentials{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			Raw:          resp,
		},
	}, nil
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractOAuth2Metadata pulls the non-credential fields out of a token
// response (e.g. Slack's team/bot metadata) so callers can fold them into a
// connection's connection_config.
func ExtractOAuth2Metadata(resp map[string]any) map[string]any {
	skip := map[string]bool{"access_token": true, "refresh_token": true, "expires_in": true, "token_type": true, "scope": true}
	out := map[string]any{}
	for k, v := range resp {
		if skip[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func keysOf(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
