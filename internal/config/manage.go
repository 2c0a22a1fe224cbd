package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to where it is persisted: the platform
// backend, the .env file, or the platform secret store for secrets.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// envFilePath resolves assistant.env_file from the backend and environment.
func envFilePath(b ConfigBackend) (string, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return "", err
	}
	applyEnvOverrides(&cfg)
	return cfg.Assistant.EnvFile, nil
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	if s.secret {
		if err := keychainSet(keychainService, s.account(), value); err != nil {
			return fmt.Errorf("storing secret %s: %w (or use environment variable %s)", key, err, s.env)
		}
		return nil
	}

	if s.envFile {
		path, err := envFilePath(b)
		if err != nil {
			return err
		}
		return NewEnvFile(path).Set(s.env, value)
	}

	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	}
	if _, err := parseRaw(s.typ, value); err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", typeName(s.typ), key, err)
	}
	return b.SetString(key, value)
}

// UnsetKey removes a persisted config key so its default applies again.
// Secrets are managed with the platform secret store directly.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret; remove it from the %s entry in the secret store (or unset %s)", key, keychainService, s.env)
	}
	if s.envFile {
		path, err := envFilePath(b)
		if err != nil {
			return err
		}
		return NewEnvFile(path).Unset(s.env)
	}
	return b.Delete(key)
}

// ValidKeys returns the list of config key names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
