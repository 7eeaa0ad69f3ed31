package oauth1sign

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_PopulatesStandardParams(t *testing.T) {
	p, err := Sign("POST", "https://api.example.com/oauth/request_token", "ck", "cs", "", "", Params{"oauth_callback": "https://app.example.com/cb"})
	require.NoError(t, err)

	assert.Equal(t, "ck", p["oauth_consumer_key"])
	assert.Equal(t, "HMAC-SHA1", p["oauth_signature_method"])
	assert.Equal(t, "1.0", p["oauth_version"])
	assert.NotEmpty(t, p["oauth_nonce"])
	assert.NotEmpty(t, p["oauth_timestamp"])
	assert.NotEmpty(t, p["oauth_signature"])
	assert.NotContains(t, p, "oauth_token")
}

func TestSign_OmitsTokenWhenEmpty(t *testing.T) {
	p, err := Sign("POST", "https://api.example.com/oauth/access_token", "ck", "cs", "", "", nil)
	require.NoError(t, err)
	_, ok := p["oauth_token"]
	assert.False(t, ok)
}

func TestSign_IncludesTokenWhenPresent(t *testing.T) {
	p, err := Sign("POST", "https://api.example.com/oauth/access_token", "ck", "cs", "rtok", "rsec", Params{"oauth_verifier": "v"})
	require.NoError(t, err)
	assert.Equal(t, "rtok", p["oauth_token"])
}

func TestSign_SignatureVerifiesAgainstBaseString(t *testing.T) {
	p, err := Sign("GET", "https://api.example.com/resource", "ck", "cs", "tok", "tsec", nil)
	require.NoError(t, err)

	base, err := signatureBase("GET", "https://api.example.com/resource", withoutSignature(p))
	require.NoError(t, err)

	key := encode("cs") + "&" + encode("tsec")
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, p["oauth_signature"])
}

func withoutSignature(p Params) Params {
	out := Params{}
	for k, v := range p {
		if k == "oauth_signature" {
			continue
		}
		out[k] = v
	}
	return out
}

func TestBuild_RendersOnlyOAuthKeysSortedByKey(t *testing.T) {
	header := Build(Params{
		"oauth_token":         "tok",
		"oauth_consumer_key":  "ck",
		"not_oauth_prefixed":  "ignored",
	})

	assert.True(t, strings.HasPrefix(header, "OAuth "))
	assert.NotContains(t, header, "not_oauth_prefixed")
	assert.Less(t, strings.Index(header, "oauth_consumer_key"), strings.Index(header, "oauth_token"))
}

func TestEncode_LeavesTildeUnescaped(t *testing.T) {
	assert.Equal(t, "~", encode("~"))
}

func TestEncode_EscapesSpaceAsPercent20(t *testing.T) {
	assert.Equal(t, "a%20b", encode("a b"))
}

func TestSignatureBase_IncludesQueryParamsFromURL(t *testing.T) {
	base, err := signatureBase("GET", "https://api.example.com/r?foo=bar", Params{"oauth_nonce": "n"})
	require.NoError(t, err)
	assert.Contains(t, base, "foo%3Dbar")
}
