package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrMalformedCredential is returned when a cookie value cannot be parsed.
var ErrMalformedCredential = errors.New("malformed session credential")

// Credential is the value held by the client: a session id and its current token.
// It never carries provider tokens.
type Credential struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Encode serializes the credential into a cookie-safe string
// (percent-encoded JSON).
func (c Credential) Encode() string {
	b, _ := json.Marshal(c)
	return url.QueryEscape(string(b))
}

// ParseCredential decodes a raw cookie value produced by Encode.
func ParseCredential(raw string) (Credential, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	var c Credential
	if err := json.Unmarshal([]byte(decoded), &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if !isSecret(c.ID) || !isSecret(c.Token) {
		return Credential{}, fmt.Errorf("%w: id and token must be %d hex characters", ErrMalformedCredential, secretBytes*2)
	}
	return c, nil
}
