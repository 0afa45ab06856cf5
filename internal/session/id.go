package session

import (
	"crypto/rand"
	"encoding/hex"
)

// secretBytes is the entropy of session ids and tokens.
const secretBytes = 32

// NewID returns a random hex-encoded session identifier.
func NewID() (string, error) {
	return randomHex(secretBytes)
}

// NewToken returns a random hex-encoded session validation token.
func NewToken() (string, error) {
	return randomHex(secretBytes)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func isSecret(s string) bool {
	if len(s) != secretBytes*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
