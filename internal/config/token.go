package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenKey = "auth.token"

// EnsureAPIToken returns the API bearer token shared by the server and the
// CLI client, generating and persisting one on first use.
func EnsureAPIToken(b ConfigBackend) (string, error) {
	v, ok, err := b.GetString(tokenKey)
	if err != nil {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	if ok && v != "" {
		return v, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := b.SetString(tokenKey, token); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}

// APIToken loads the persisted token from the default backend.
func APIToken() (string, error) {
	return EnsureAPIToken(newPlatformBackend())
}
