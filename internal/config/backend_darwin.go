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

const defaultsDomain = "com.prodscribe.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "prodscribe")
	}
	return "prodscribe-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: " + keychainService + ", account: openai_api_key; prodscribe config set openai.api_key ...)"
}

// defaultsBackend reads and writes UserDefaults through the defaults CLI.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

// run executes defaults with args. missing reports the exit status
// defaults uses for an absent key.
func (b *defaultsBackend) run(args ...string) (out string, missing bool, err error) {
	raw, err := exec.Command("defaults", args...).CombinedOutput()
	out = strings.TrimSpace(string(raw))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return out, true, nil
		}
		return out, false, fmt.Errorf("defaults %s: %w: %s", args[0], err, out)
	}
	return out, false, nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, missing, err := b.run("read", b.domain, key)
	if err != nil || missing {
		return "", false, err
	}
	return out, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) write(key, typ, val string) error {
	out, failed, err := b.run("write", b.domain, key, typ, val)
	if failed {
		return fmt.Errorf("defaults write %s: %s", key, out)
	}
	return err
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

// Delete of an absent key is not an error.
func (b *defaultsBackend) Delete(key string) error {
	_, _, err := b.run("delete", b.domain, key)
	return err
}
