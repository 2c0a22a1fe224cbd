package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// AssistantIDKey is the .env variable holding the persisted assistant id.
const AssistantIDKey = "ASSISTANT_ID"

// EnvFile reads and updates a dotenv-style file.
type EnvFile struct {
	path string
	mu   sync.Mutex
}

// NewEnvFile returns an EnvFile for path. The file need not exist yet.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

func (f *EnvFile) Path() string { return f.path }

// Read returns the variables in the file; a missing file reads as empty.
func (f *EnvFile) Read() (map[string]string, error) {
	if f.path == "" {
		return map[string]string{}, nil
	}
	vals, err := godotenv.Read(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", f.path, err)
	}
	return vals, nil
}

// Set writes key=value into the file. An existing assignment is replaced
// on its own line; otherwise the assignment is appended. Comments, order
// and other variables are left as they are.
func (f *EnvFile) Set(key, value string) error {
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return f.edit(key, line)
}

// Unset removes every assignment of key from the file.
func (f *EnvFile) Unset(key string) error {
	return f.edit(key, "")
}

// edit replaces the first assignment of key with line and drops any
// later ones. An empty line removes the key.
func (f *EnvFile) edit(key, line string) error {
	if f.path == "" {
		return errors.New("no env file configured")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading env file %s: %w", f.path, err)
	}

	var lines []string
	if text := strings.TrimSuffix(string(data), "\n"); text != "" {
		lines = strings.Split(text, "\n")
	}

	out := make([]string, 0, len(lines)+1)
	written := line == ""
	for _, l := range lines {
		if assignedKey(l) != key {
			out = append(out, l)
			continue
		}
		if !written {
			out = append(out, line)
			written = true
		}
	}
	if !written {
		out = append(out, line)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating env file dir: %w", err)
		}
	}
	var content string
	if len(out) > 0 {
		content = strings.Join(out, "\n") + "\n"
	}
	if err := os.WriteFile(f.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing env file %s: %w", f.path, err)
	}
	return nil
}

// assignedKey returns the variable a single .env line assigns, or "" for
// blanks, comments and lines that do not parse on their own.
func assignedKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	vals, err := godotenv.Unmarshal(trimmed)
	if err != nil || len(vals) != 1 {
		return ""
	}
	for k := range vals {
		return k
	}
	return ""
}

// SaveAssistantID persists id and exports it to the process environment.
func (f *EnvFile) SaveAssistantID(id string) error {
	if err := f.Set(AssistantIDKey, id); err != nil {
		return err
	}
	return os.Setenv(AssistantIDKey, id)
}
