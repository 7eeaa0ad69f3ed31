package engine

import (
	"testing"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistry_CoversEveryAuthMode(t *testing.T) {
	reg := NewRegistry(Env{})

	for _, mode := range []domain.AuthMode{
		domain.AuthModeOAuth1, domain.AuthModeOAuth2, domain.AuthModeOAuth2CC,
		domain.AuthModeApp, domain.AuthModeCustom, domain.AuthModeAppStore,
		domain.AuthModeBasic, domain.AuthModeAPIKey, domain.AuthModeJWT,
		domain.AuthModeSignature, domain.AuthModeTableau, domain.AuthModeTwoStep,
		domain.AuthModeBill, domain.AuthModeTba,
	} {
		driver, ok := reg[mode]
		assert.Truef(t, ok, "no driver registered for %s", mode)
		assert.NotNilf(t, driver, "nil driver registered for %s", mode)
	}
}
