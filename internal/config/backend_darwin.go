//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.edgecoach.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "edgecoach-data"
	}
	return filepath.Join(home, "Library", "Application Support", "edgecoach")
}

func apiKeyHint() string {
	return " or macOS Keychain (service: edgecoach, account: anthropic_api_key or openai_api_key)"
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// defaultsBackend stores settings in the user defaults database via the
// defaults(1) tool.
type defaultsBackend struct {
	domain string
}

// errNoDefault marks a key absent from the domain; defaults exits 1 for it.
var errNoDefault = errors.New("no such default")

func (b defaultsBackend) run(verb, key string, args ...string) (string, error) {
	argv := append([]string{verb, b.domain, key}, args...)
	out, err := exec.Command("defaults", argv...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exitErr *exec.ExitError
	if verb != "write" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", errNoDefault
	}
	return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	v, err := b.run("read", key)
	switch {
	case errors.Is(err, errNoDefault):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v, true, nil
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	return n, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	_, err := b.run("delete", key)
	if errors.Is(err, errNoDefault) {
		return nil
	}
	return err
}
