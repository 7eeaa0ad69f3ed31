// Package oauth1sign computes RFC 5849 HMAC-SHA1 signatures for the
// OAUTH1 request-token and access-token legs (§4.4 OAUTH1). Nothing in the
// example corpus speaks OAuth1, so this is hand-rolled against the RFC
// rather than grounded on a pack dependency (see the project's grounding
// ledger for that call).
package oauth1sign

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Params is the set of protocol parameters (oauth_* plus any extra query
// params) that go into both the signature base string and the final
// Authorization header.
type Params map[string]string

// Sign computes the oauth_signature for an HTTP request per RFC 5849 §3.4
// and returns a fully populated Params ready to render as an Authorization
// header (Build) or a query string.
func Sign(method, rawURL string, consumerKey, consumerSecret, token, tokenSecret string, extra Params) (Params, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	p := Params{}
	for k, v := range extra {
		p[k] = v
	}
	p["oauth_consumer_key"] = consumerKey
	p["oauth_nonce"] = nonce
	p["oauth_signature_method"] = "HMAC-SHA1"
	p["oauth_timestamp"] = strconv.FormatInt(time.Now().UTC().Unix(), 10)
	p["oauth_version"] = "1.0"
	if token != "" {
		p["oauth_token"] = token
	}

	base, err := signatureBase(method, rawURL, p)
	if err != nil {
		return nil, err
	}

	key := encode(consumerSecret) + "&" + encode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	p["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return p, nil
}

// Build renders the oauth_* entries of p as an RFC 5849 §3.5.1
// "Authorization" header value, realm omitted.
func Build(p Params) string {
	var parts []string
	for k, v := range p {
		if !strings.HasPrefix(k, "oauth_") {
			continue
		}
		parts = append(parts, fmt.Sprintf(`%s="%s"`, encode(k), encode(v)))
	}
	sort.Strings(parts)
	return "OAuth " + strings.Join(parts, ", ")
}

// signatureBase constructs the RFC 5849 §3.4.1 signature base string:
// method, base URL (no query), and the normalized, sorted parameter set
// (query params plus oauth_* params, query params from the URL itself
// included).
func signatureBase(method, rawURL string, p Params) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	queryParams := u.Query()
	u.RawQuery = ""
	baseURL := u.String()

	all := map[string]string{}
	for k, vs := range queryParams {
		if len(vs) > 0 {
			all[k] = vs[0]
		}
	}
	for k, v := range p {
		all[k] = v
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, encode(k)+"="+encode(all[k]))
	}
	normalized := strings.Join(pairs, "&")

	return strings.ToUpper(method) + "&" + encode(baseURL) + "&" + encode(normalized), nil
}

// encode applies RFC 5849 §3.6 percent-encoding (RFC 3986 unreserved set;
// spaces become "%20" instead of url.QueryEscape's "+").
func encode(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "%7E", "~")
	return escaped
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
