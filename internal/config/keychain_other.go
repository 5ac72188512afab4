//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// secrets maps service -> account -> value.
type secrets map[string]map[string]string

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "edgecoach", "secrets.json")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "edgecoach", "secrets.json")
}

// readSecrets returns an empty set when the file does not exist yet.
func readSecrets(path string) (secrets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return secrets{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	s := secrets{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return s, nil
}

// writeSecrets replaces the file through a rename so a crash never leaves
// a truncated secrets file behind.
func writeSecrets(path string, s secrets) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return os.Rename(tmp, path)
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, account, ErrSecretNotFound)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	s, err := readSecrets(path)
	if err != nil {
		// An unreadable file is replaced rather than blocking token setup.
		s = secrets{}
	}
	if s[service] == nil {
		s[service] = map[string]string{}
	}
	s[service][account] = value
	return writeSecrets(path, s)
}
