//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// xdgPath joins name under $env/prodscribe, or under $HOME/fallback when
// env is unset.
func xdgPath(env, fallback, name string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("prodscribe-data", name)
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "prodscribe", name)
}

func defaultDataDir() string {
	return filepath.Dir(xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "prodscribe.db"))
}

func configFilePath() string {
	return xdgPath("XDG_CONFIG_HOME", ".config", "config.yaml")
}

func apiKeyHint() string {
	return " or the secrets file " + secretsFilePath() + " (prodscribe config set openai.api_key ...)"
}

// yamlBackend keeps settings as a flat YAML mapping of dotted keys:
//
//	server.port: 8000
//	run.timeout: 45s
type yamlBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newYAMLBackend(configFilePath())
}

// newYAMLBackend loads path. A missing or unreadable file yields an empty
// backend so defaults apply.
func newYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, data: map[string]any{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not read config file, using defaults", "path", path, "error", err)
		}
		return b
	}
	if err := yaml.Unmarshal(raw, &b.data); err != nil {
		slog.Warn("could not parse config file, using defaults", "path", path, "error", err)
		b.data = map[string]any{}
	}
	if b.data == nil {
		b.data = map[string]any{}
	}
	return b
}

func (b *yamlBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := yaml.Marshal(b.data)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, out, 0o600)
}

func (b *yamlBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok || v == nil {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *yamlBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
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
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *yamlBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *yamlBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return b.save()
}

func (b *yamlBackend) Delete(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
