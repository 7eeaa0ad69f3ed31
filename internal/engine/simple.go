package engine

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/engine/jwtmode"
	"github.com/dropDatabas3/authbroker/internal/metrics"
)

// SimpleDriver implements every synchronous, non-redirect auth mode
// (API_KEY, BASIC, SIGNATURE, TBA, TABLEAU, BILL, TWO_STEP — §4.6): the
// caller supplies finished credentials up front, the driver validates their
// shape, upserts the connection, and optionally runs the verification
// probe. There is no session and Finish is never called.
type SimpleDriver struct {
	Env  Env
	Mode domain.AuthMode
}

func NewSimpleDriver(env Env, mode domain.AuthMode) *SimpleDriver {
	return &SimpleDriver{Env: env, Mode: mode}
}

func (d *SimpleDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	provider, _, err := resolveProviderAndConfig(ctx, d.Env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	creds, err := buildSimpleCredentials(d.Mode, req.Credentials)
	if err != nil {
		return nil, err
	}

	conn := domain.Connection{
		ConnectionID: domain.ConnectionID{
			EnvironmentID:     req.EnvironmentID,
			ProviderConfigKey: req.ProviderConfigKey,
			ConnectionID:      req.ConnectionID,
		},
		Provider:         provider.ID,
		Credentials:      *creds,
		ConnectionConfig: req.ConnectionConfig,
	}
	result, err := d.Env.Connections.Upsert(ctx, conn)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "upsert connection: %v", err)
	}

	hookCtx := HookContext{
		EnvironmentID:     req.EnvironmentID,
		ProviderConfigKey: req.ProviderConfigKey,
		ConnectionID:      req.ConnectionID,
		Provider:          provider.ID,
		AuthMode:          string(d.Mode),
		Operation:         string(result.Operation),
		Success:           true,
		NewConnection:     result.Operation == domain.OperationCreation,
		WebSocketClientID: req.WebSocketClientID,
	}

	if d.Env.Prober != nil && provider.Proxy.Verification != nil {
		ok, verr := d.Env.Prober.Verify(ctx, hookCtx)
		if verr != nil || !ok {
			_ = d.Env.Connections.MarkFailing(ctx, conn.ConnectionID, true)
			metrics.AuthAttemptsTotal.WithLabelValues(string(d.Mode), "error").Inc()
			return nil, authzerr.New(authzerr.ConnectionTestFailed, "verification probe failed: %v", verr)
		}
	}

	if d.Env.Hooks != nil {
		d.Env.Hooks.Run(hookCtx)
	}

	metrics.AuthAttemptsTotal.WithLabelValues(string(d.Mode), "success").Inc()
	return &StartResult{Completion: &Completion{Connection: result}}, nil
}

func (d *SimpleDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return nil, authzerr.New(authzerr.InvalidAuthMode, "%s has no callback leg", d.Mode)
}

func buildSimpleCredentials(mode domain.AuthMode, in map[string]any) (*domain.Credentials, error) {
	switch mode {
	case domain.AuthModeAPIKey:
		apiKey, _ := in["api_key"].(string)
		if apiKey == "" {
			return nil, authzerr.New(authzerr.InvalidConnectionConfig, "api_key is required")
		}
		return &domain.Credentials{Type: domain.CredentialAPIKey, APIKey: &domain.APIKeyCredentials{APIKey: apiKey}}, nil

	case domain.AuthModeBasic:
		username, _ := in["username"].(string)
		password, _ := in["password"].(string)
		if username == "" {
			return nil, authzerr.New(authzerr.InvalidConnectionConfig, "username is required")
		}
		return &domain.Credentials{Type: domain.CredentialBasic, Basic: &domain.BasicCredentials{Username: username, Password: password}}, nil

	case domain.AuthModeSignature:
		return requireAndWrap(domain.CredentialSignature, in, "username", "password")

	case domain.AuthModeTba:
		return requireAndWrap(domain.CredentialTba, in, "token_id", "token_secret")

	case domain.AuthModeTableau:
		return requireAndWrap(domain.CredentialTableau, in, "pat_name", "pat_secret", "content_url")

	case domain.AuthModeBill:
		return requireAndWrap(domain.CredentialBill, in, "dev_key", "username", "password", "org_id")

	case domain.AuthModeTwoStep:
		return &domain.Credentials{Type: domain.CredentialTwoStep, Opaque: in}, nil

	default:
		return nil, authzerr.New(authzerr.InvalidAuthMode, "unsupported simple auth mode %q", mode)
	}
}

func requireAndWrap(t domain.CredentialType, in map[string]any, required ...string) (*domain.Credentials, error) {
	for _, k := range required {
		v, ok := in[k].(string)
		if !ok || v == "" {
			return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%s is required", k)
		}
	}
	return &domain.Credentials{Type: t, Opaque: in}, nil
}

// JWTDriver implements the JWT auth mode (§4.4 JWT): it signs a
// client-assertion bearer token from a declared private key instead of
// exchanging anything with an upstream token endpoint.
type JWTDriver struct{ Env Env }

func NewJWTDriver(env Env) *JWTDriver { return &JWTDriver{Env: env} }

func (d *JWTDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	provider, _, err := resolveProviderAndConfig(ctx, d.Env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	cfg := jwtmode.Config{
		PrivateKeyPEM: stringField(req.Credentials, "private_key"),
		Issuer:        stringField(req.Credentials, "issuer"),
		Subject:       stringField(req.Credentials, "subject"),
		Audience:      stringField(req.Credentials, "audience"),
		KeyID:         stringField(req.Credentials, "key_id"),
	}

	token, expiresAt, err := jwtmode.Sign(cfg, d.Env.now())
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeJWT), "error").Inc()
		return nil, authzerr.New(authzerr.TokenParsingError, "%v", err)
	}

	creds := domain.Credentials{
		Type: domain.CredentialJwt,
		Opaque: map[string]any{
			"client_assertion": token,
			"expires_at":       expiresAt,
			"issuer":           cfg.Issuer,
			"subject":          cfg.Subject,
		},
	}

	conn := domain.Connection{
		ConnectionID: domain.ConnectionID{
			EnvironmentID:     req.EnvironmentID,
			ProviderConfigKey: req.ProviderConfigKey,
			ConnectionID:      req.ConnectionID,
		},
		Provider:         provider.ID,
		Credentials:      creds,
		ConnectionConfig: req.ConnectionConfig,
	}
	result, err := d.Env.Connections.Upsert(ctx, conn)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "upsert connection: %v", err)
	}

	if d.Env.Hooks != nil {
		d.Env.Hooks.Run(HookContext{
			EnvironmentID:     req.EnvironmentID,
			ProviderConfigKey: req.ProviderConfigKey,
			ConnectionID:      req.ConnectionID,
			Provider:          provider.ID,
			AuthMode:          string(domain.AuthModeJWT),
			Operation:         string(result.Operation),
			Success:           true,
			NewConnection:     result.Operation == domain.OperationCreation,
			WebSocketClientID: req.WebSocketClientID,
		})
	}

	metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeJWT), "success").Inc()
	return &StartResult{Completion: &Completion{Connection: result}}, nil
}

func (d *JWTDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return nil, authzerr.New(authzerr.InvalidAuthMode, "JWT has no callback leg")
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
