// Package domain holds the broker's core value types: provider descriptors,
// tenant integration config, OAuth sessions, connections and their
// credential variants. These are pure data records.
package domain

// AuthMode identifies the authentication protocol a provider speaks.
type AuthMode string

const (
	AuthModeOAuth1    AuthMode = "OAUTH1"
	AuthModeOAuth2    AuthMode = "OAUTH2"
	AuthModeOAuth2CC  AuthMode = "OAUTH2_CC"
	AuthModeApp       AuthMode = "APP"
	AuthModeCustom    AuthMode = "CUSTOM"
	AuthModeAppStore  AuthMode = "APP_STORE"
	AuthModeBasic     AuthMode = "BASIC"
	AuthModeAPIKey    AuthMode = "API_KEY"
	AuthModeJWT       AuthMode = "JWT"
	AuthModeSignature AuthMode = "SIGNATURE"
	AuthModeTableau   AuthMode = "TABLEAU"
	AuthModeTwoStep   AuthMode = "TWO_STEP"
	AuthModeBill      AuthMode = "BILL"
	AuthModeTba       AuthMode = "TBA"
)

// IsRedirectBased reports whether start() for this mode produces a redirect
// rather than completing synchronously.
func (m AuthMode) IsRedirectBased() bool {
	switch m {
	case AuthModeOAuth1, AuthModeOAuth2, AuthModeApp, AuthModeCustom, AuthModeAppStore:
		return true
	default:
		return false
	}
}

// IsRefreshable reports whether getFreshCredentials should ever attempt a
// refresh exchange for connections minted under this mode.
func (m AuthMode) IsRefreshable() bool {
	return m == AuthModeOAuth2
}

// TokenAuthMethod selects how client credentials are presented on a token
// exchange request.
type TokenAuthMethod string

const (
	TokenAuthBasic TokenAuthMethod = "basic"
	TokenAuthBody  TokenAuthMethod = "body"
)

// BodyFormat selects the wire encoding of a token-exchange request body.
type BodyFormat string

const (
	BodyFormatForm BodyFormat = "form"
	BodyFormatJSON BodyFormat = "json"
)

// VerificationProbe declares a read-only request used to sanity-check
// freshly minted non-OAuth credentials (§4.8).
type VerificationProbe struct {
	Method   string            `yaml:"method"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	BaseURL  string            `yaml:"base_url,omitempty"`
}

// Proxy groups the proxy-facing declarations of a provider.
type Proxy struct {
	Verification *VerificationProbe `yaml:"verification,omitempty"`
}

// Provider is the immutable, per-provider descriptor loaded from declarative
// metadata (providers.yaml). Every string field may reference ${path.to.value}
// templates resolved against connection-config/tenant-config/session at the
// time of use (§3 invariant); Provider itself never resolves anything.
type Provider struct {
	ID   string   `yaml:"-"`
	Name string   `yaml:"name,omitempty"`
	Mode AuthMode `yaml:"auth_mode"`

	// AuthorizationURL and TokenURL may be a plain string (Raw) or a
	// per-auth-mode mapping (ByMode), matching declarative files that
	// override the endpoint per auth mode (e.g. OAuth1 vs OAuth2 variants
	// of the same provider).
	AuthorizationURL URLSpec `yaml:"authorization_url"`
	TokenURL         URLSpec `yaml:"token_url"`
	RefreshURL       URLSpec `yaml:"refresh_url,omitempty"`

	// RequestTokenURL is the OAUTH1 request-token endpoint (RFC 5849 §6.1).
	// TokenURL doubles as the OAUTH1 access-token endpoint (RFC 5849 §6.3).
	RequestTokenURL URLSpec `yaml:"request_token_url,omitempty"`

	AuthorizationParams         map[string]string `yaml:"authorization_params,omitempty"`
	TokenParams                 map[string]string `yaml:"token_params,omitempty"`
	RefreshParams                map[string]string `yaml:"refresh_params,omitempty"`
	AuthorizationURLReplacements map[string]string `yaml:"authorization_url_replacements,omitempty"`

	TokenURLEncode           bool `yaml:"token_url_encode,omitempty"`
	AuthorizationURLEncode   bool `yaml:"authorization_url_encode,omitempty"`
	DisablePKCE              bool `yaml:"disable_pkce,omitempty"`
	AuthorizationURLFragment bool `yaml:"authorization_url_fragment,omitempty"`

	TokenRequestAuthMethod TokenAuthMethod `yaml:"token_request_auth_method,omitempty"`
	BodyFormat             BodyFormat      `yaml:"body_format,omitempty"`
	ScopeSeparator         string          `yaml:"scope_separator,omitempty"`

	Proxy                Proxy  `yaml:"proxy,omitempty"`
	WebhookRoutingScript string `yaml:"webhook_routing_script,omitempty"`

	// Alias lets one declarative entry stand in for another (§6); resolved
	// transitively by the registry loader, never consulted by the engine.
	Alias string `yaml:"alias,omitempty"`
}

// URLSpec is either a single template string or a per-auth-mode map of
// template strings. Declarative YAML can supply either shape.
type URLSpec struct {
	Raw    string
	ByMode map[AuthMode]string
}

// Resolve returns the template string for the given mode, falling back to
// Raw when no per-mode override exists.
func (u URLSpec) Resolve(mode AuthMode) string {
	if u.ByMode != nil {
		if v, ok := u.ByMode[mode]; ok {
			return v
		}
	}
	return u.Raw
}

// UnmarshalYAML implements custom decoding so a YAML scalar becomes Raw and
// a YAML mapping becomes ByMode.
func (u *URLSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err == nil {
		u.Raw = raw
		return nil
	}
	var byMode map[AuthMode]string
	if err := unmarshal(&byMode); err != nil {
		return err
	}
	u.ByMode = byMode
	return nil
}
