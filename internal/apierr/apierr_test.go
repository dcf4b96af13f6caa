package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(Validation("INVALID_PHONE", "bad phone")))
	assert.Equal(t, http.StatusNotFound, StatusCode(NotFound("LEAD_NOT_FOUND", "no lead")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(NotProvisioned("TENANT_NOT_PROVISIONED", "no dsn")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(Internal("BOOM", errors.New("boom"))))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestStatusCodeUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("handling trigger: %w", NotFound("LEAD_NOT_FOUND", "no lead"))
	assert.Equal(t, http.StatusNotFound, StatusCode(wrapped))
	assert.Equal(t, "LEAD_NOT_FOUND", ClassifyCode(wrapped))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient("DB_DISCONNECT", errors.New("conn reset"))))
	assert.False(t, IsTransient(Permanent("PROVIDER_AUTH", errors.New("401"))))
	// unclassified errors default to retryable
	assert.True(t, IsTransient(errors.New("unknown")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindTransient, "DB_TIMEOUT", cause)
	assert.Contains(t, err.Error(), "timeout")
	assert.ErrorIs(t, err, cause)
}
