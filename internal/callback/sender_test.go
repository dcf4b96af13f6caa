package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignPayloadDeterministic(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	sig1 := SignPayload(payload, "secret")
	sig2 := SignPayload(payload, "secret")
	assert.Equal(t, sig1, sig2)
}

func TestSignPayloadChangesWithPayload(t *testing.T) {
	sig1 := SignPayload([]byte(`{"a":1}`), "secret")
	sig2 := SignPayload([]byte(`{"a":2}`), "secret")
	assert.NotEqual(t, sig1, sig2)
}

func TestSignPayloadChangesWithSecret(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig1 := SignPayload(payload, "secret-a")
	sig2 := SignPayload(payload, "secret-b")
	assert.NotEqual(t, sig1, sig2)
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, isTerminalStatus(400))
	assert.True(t, isTerminalStatus(404))
	assert.False(t, isTerminalStatus(408))
	assert.False(t, isTerminalStatus(429))
	assert.False(t, isTerminalStatus(500))
	assert.False(t, isTerminalStatus(200))
}
