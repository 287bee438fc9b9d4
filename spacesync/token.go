package spacesync

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Agent session tokens issued by the RegisterAgent handler. The coordinator
// mints and verifies; agents only carry the token and may inspect the claims
// without verification.

type SessionToken struct {
	AgentId   string
	AgentName string
	AgentType string
}

func MintSessionToken(secret []byte, token *SessionToken) (string, error) {
	claims := gojwt.MapClaims{
		"agent_id": token.AgentId,
	}
	if token.AgentName != "" {
		claims["agent_name"] = token.AgentName
	}
	if token.AgentType != "" {
		claims["agent_type"] = token.AgentType
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseSessionToken(jwt string, secret []byte) (*SessionToken, error) {
	token, err := gojwt.Parse(jwt, func(token *gojwt.Token) (any, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return sessionTokenFromClaims(token.Claims.(gojwt.MapClaims)), nil
}

func ParseSessionTokenUnverified(jwt string) (*SessionToken, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	return sessionTokenFromClaims(token.Claims.(gojwt.MapClaims)), nil
}

func sessionTokenFromClaims(claims gojwt.MapClaims) *SessionToken {
	sessionToken := &SessionToken{}
	if agentId, ok := claims["agent_id"].(string); ok {
		sessionToken.AgentId = agentId
	}
	if agentName, ok := claims["agent_name"].(string); ok {
		sessionToken.AgentName = agentName
	}
	if agentType, ok := claims["agent_type"].(string); ok {
		sessionToken.AgentType = agentType
	}
	return sessionToken
}
