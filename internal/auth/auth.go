// Package auth guards the console API with hashed API keys and signs the
// service tokens the console presents to the backend.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Key is an accepted console API key, stored by hash.
type Key struct {
	KeyHash     string
	Description string
}

// Authenticator validates console API keys.
type Authenticator struct {
	keys map[string]Key // keyhash -> key
}

// NewAuthenticator creates an authenticator for the given keys. With no keys
// every request is allowed.
func NewAuthenticator(keys []Key) *Authenticator {
	auth := &Authenticator{
		keys: make(map[string]Key),
	}
	for _, k := range keys {
		auth.keys[strings.ToLower(k.KeyHash)] = k
	}
	return auth
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0
}

// ValidateAPIKey validates an API key and returns the matching entry.
func (a *Authenticator) ValidateAPIKey(apiKey string) (*Key, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("invalid API key")
	}
	keyHash := HashAPIKey(apiKey)

	k, ok := a.keys[keyHash]
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(k.KeyHash))) != 1 {
		return nil, fmt.Errorf("invalid API key")
	}
	return &k, nil
}

// Middleware rejects requests without a valid bearer key.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		apiKey, err := ExtractAPIKey(r)
		if err == nil {
			_, err = a.ValidateAPIKey(apiKey)
		}
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
