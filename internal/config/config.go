package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	VariantAssistant  = "assistant"
	VariantCompletion = "completion"

	keychainService = "prodscribe"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Assistant AssistantConfig
	Run       RunConfig
	Storage   StorageConfig
	Payload   PayloadConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	Variant  string
	APIToken string
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

type AssistantConfig struct {
	ID      string
	Name    string
	EnvFile string
}

type RunConfig struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	RetryInterval   time.Duration
	SuccessStatuses string
	FailureStatuses string
}

// Success returns the configured success statuses.
func (r RunConfig) Success() []string { return splitList(r.SuccessStatuses) }

// Failure returns the configured failure statuses.
func (r RunConfig) Failure() []string { return splitList(r.FailureStatuses) }

type StorageConfig struct {
	DataDir        string
	HistoryEnabled bool
}

type PayloadConfig struct {
	FixturesFile string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8000,
			Variant: VariantAssistant,
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 1.0,
			MaxTokens:   700,
		},
		Assistant: AssistantConfig{
			Name:    "ProductPersonalizationAssistant",
			EnvFile: ".env",
		},
		Run: RunConfig{
			Timeout:         30 * time.Second,
			PollInterval:    500 * time.Millisecond,
			RetryInterval:   200 * time.Millisecond,
			SuccessStatuses: "succeeded",
			FailureStatuses: "failed",
		},
		Storage: StorageConfig{
			DataDir:        defaultDataDir(),
			HistoryEnabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, the local
// .env file, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.prodscribe.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/prodscribe/config.yaml
// and secrets fall back to $XDG_DATA_HOME/prodscribe/secrets.json.
//
// Values in the .env file (assistant.env_file) override the backend, and
// process environment variables override both.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	// The env file location may itself come from the environment.
	applyEnvOverrides(&cfg)
	vals, err := NewEnvFile(cfg.Assistant.EnvFile).Read()
	if err != nil {
		return Config{}, err
	}
	applyEnvMap(&cfg, vals)
	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still empty.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account()); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable ZAP_OPENAI_API_KEY or OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Server.Variant {
	case VariantAssistant, VariantCompletion:
	default:
		return fmt.Errorf("invalid server.variant %q: want %q or %q", cfg.Server.Variant, VariantAssistant, VariantCompletion)
	}
	if len(cfg.Run.Success()) == 0 || len(cfg.Run.Failure()) == 0 {
		return fmt.Errorf("run.success_statuses and run.failure_statuses must not be empty")
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
