package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"integration missing", NewIntegrationMissing("u1", "slack"), IsIntegrationMissing},
		{"external api", &ExternalAPIError{Provider: "hubspot", Status: 429, Kind: KindRateLimited}, IsExternalAPI},
		{"configuration", NewConfigurationError("n1", "channel", "required"), IsConfiguration},
		{"validation", NewValidationError(nil, "name is required"), IsValidation},
		{"database", NewDatabaseError("save workflow", errors.New("boom")), IsDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindRateLimited, KindForStatus(429))
	assert.Equal(t, KindAuthExpired, KindForStatus(401))
	assert.Equal(t, KindAuthExpired, KindForStatus(403))
	assert.Equal(t, KindUnavailable, KindForStatus(503))
	assert.Equal(t, KindRejected, KindForStatus(422))
}

func TestAsExternalAPI(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("subscribe: %w", &ExternalAPIError{Provider: "shopify", Status: 401, Kind: KindAuthExpired, Message: "invalid token"})

	apiErr, ok := AsExternalAPI(err)
	require.True(t, ok)
	assert.Equal(t, "shopify", apiErr.Provider)
	assert.Equal(t, "shopify api auth_expired (status 401): invalid token", apiErr.Error())
}

func TestConfigurationErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError("send", "channel", "is required")
	assert.Equal(t, "configuration error in node send: field channel: is required", err.Error())
}
