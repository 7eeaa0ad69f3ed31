package engine

import "github.com/dropDatabas3/authbroker/internal/domain"

// NewRegistry builds the AuthMode → Driver dispatch table (§4.4, §9): a
// flat map, no inheritance, no per-mode special-casing outside the drivers
// themselves.
func NewRegistry(env Env) map[domain.AuthMode]Driver {
	return map[domain.AuthMode]Driver{
		domain.AuthModeOAuth2:    NewOAuth2Driver(env),
		domain.AuthModeOAuth2CC:  NewOAuth2CCDriver(env),
		domain.AuthModeOAuth1:    NewOAuth1Driver(env),
		domain.AuthModeApp:       NewAppDriver(env),
		domain.AuthModeCustom:    NewCustomDriver(env),
		domain.AuthModeAppStore:  NewAppStoreDriver(env),
		domain.AuthModeAPIKey:    NewSimpleDriver(env, domain.AuthModeAPIKey),
		domain.AuthModeBasic:     NewSimpleDriver(env, domain.AuthModeBasic),
		domain.AuthModeSignature: NewSimpleDriver(env, domain.AuthModeSignature),
		domain.AuthModeTba:       NewSimpleDriver(env, domain.AuthModeTba),
		domain.AuthModeTableau:   NewSimpleDriver(env, domain.AuthModeTableau),
		domain.AuthModeBill:      NewSimpleDriver(env, domain.AuthModeBill),
		domain.AuthModeTwoStep:   NewSimpleDriver(env, domain.AuthModeTwoStep),
		domain.AuthModeJWT:       NewJWTDriver(env),
	}
}
