package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileBackend stores config in a TOML file. Dotted keys map to tables:
// "server.port" is port under [server].
type fileBackend struct {
	path string
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	if _, err := toml.DecodeFile(b.path, &b.data); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		b.data = make(map[string]any)
	}
}

func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(b.data); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, buf.Bytes(), 0o600)
}

// lookup walks the table path of a dotted key.
func (b *fileBackend) lookup(key string) (any, bool) {
	parts := strings.Split(key, ".")
	table := b.data
	for _, p := range parts[:len(parts)-1] {
		next, ok := table[p].(map[string]any)
		if !ok {
			return nil, false
		}
		table = next
	}
	v, ok := table[parts[len(parts)-1]]
	return v, ok
}

func (b *fileBackend) set(key string, val any) {
	parts := strings.Split(key, ".")
	table := b.data
	for _, p := range parts[:len(parts)-1] {
		next, ok := table[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			table[p] = next
		}
		table = next
	}
	table[parts[len(parts)-1]] = val
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int64:
		if val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("value %d for %s is out of range", val, key)
		}
		return int(val), true, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.set(key, val)
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.set(key, int64(val))
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	parts := strings.Split(key, ".")
	if len(parts) > 1 {
		if table, ok := b.lookupTable(parts[:len(parts)-1]); ok {
			delete(table, parts[len(parts)-1])
		}
	} else {
		delete(b.data, key)
	}
	return b.save()
}

func (b *fileBackend) lookupTable(path []string) (map[string]any, bool) {
	table := b.data
	for _, p := range path {
		next, ok := table[p].(map[string]any)
		if !ok {
			return nil, false
		}
		table = next
	}
	return table, true
}
