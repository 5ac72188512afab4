package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrSecretNotFound is returned when the secret store has no entry for an
// account.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain reads and writes credentials in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain on darwin,
// a 0600 JSON file under $XDG_DATA_HOME elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

const apiTokenAccount = "api_token"

// GetAPIToken returns the bearer token guarding the HTTP API. It reads
// EDGECOACH_API_TOKEN, then the secret store, and otherwise generates a new
// token and stores it.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("EDGECOACH_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(KeychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := kc.Set(KeychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing generated API token: %w", err)
	}
	return tok, nil
}
