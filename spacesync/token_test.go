package spacesync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token := &SessionToken{
		AgentId:   "agent-1",
		AgentName: "scribe",
		AgentType: "assistant",
	}

	jwt, err := MintSessionToken(secret, token)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, jwt, "")

	parsed, err := ParseSessionToken(jwt, secret)
	assert.Equal(t, err, nil)
	assert.Equal(t, token, parsed)
}

func TestSessionTokenWrongSecret(t *testing.T) {
	jwt, err := MintSessionToken([]byte("secret-a"), &SessionToken{
		AgentId: "agent-1",
	})
	assert.Equal(t, err, nil)

	_, err = ParseSessionToken(jwt, []byte("secret-b"))
	assert.NotEqual(t, err, nil)
}

func TestSessionTokenUnverified(t *testing.T) {
	jwt, err := MintSessionToken([]byte("secret"), &SessionToken{
		AgentId:   "agent-1",
		AgentType: "assistant",
	})
	assert.Equal(t, err, nil)

	// claims are readable without the secret
	parsed, err := ParseSessionTokenUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.AgentId, "agent-1")
	assert.Equal(t, parsed.AgentName, "")
	assert.Equal(t, parsed.AgentType, "assistant")
}
