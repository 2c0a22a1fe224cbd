package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // fallback env names, checked in order after env
	secret  bool
	envFile bool // persisted in the .env file rather than the backend
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store account name for the key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "PRODSCRIBE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PRODSCRIBE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.variant", typ: kString, env: "PRODSCRIBE_SERVER_VARIANT",
		apply:   func(cfg *Config, v any) { cfg.Server.Variant = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Server.Variant },
	},
	{
		key: "server.api_token", typ: kString, env: "PRODSCRIBE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "openai.api_key", typ: kString, env: "ZAP_OPENAI_API_KEY", aliases: []string{"OPENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "PRODSCRIBE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "PRODSCRIBE_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.temperature", typ: kFloat, env: "PRODSCRIBE_OPENAI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenAI.Temperature },
	},
	{
		key: "openai.max_tokens", typ: kInt, env: "PRODSCRIBE_OPENAI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.MaxTokens },
	},
	{
		key: "assistant.id", typ: kString, env: "ASSISTANT_ID",
		envFile: true,
		apply:   func(cfg *Config, v any) { cfg.Assistant.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.ID },
	},
	{
		key: "assistant.name", typ: kString, env: "PRODSCRIBE_ASSISTANT_NAME",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Name },
	},
	{
		key: "assistant.env_file", typ: kString, env: "PRODSCRIBE_ASSISTANT_ENV_FILE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.EnvFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.EnvFile },
	},
	{
		key: "run.timeout", typ: kDuration, env: "PRODSCRIBE_RUN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Run.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Run.Timeout },
	},
	{
		key: "run.poll_interval", typ: kDuration, env: "PRODSCRIBE_RUN_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Run.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Run.PollInterval },
	},
	{
		key: "run.retry_interval", typ: kDuration, env: "PRODSCRIBE_RUN_RETRY_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Run.RetryInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Run.RetryInterval },
	},
	{
		key: "run.success_statuses", typ: kString, env: "PRODSCRIBE_RUN_SUCCESS_STATUSES",
		apply:   func(cfg *Config, v any) { cfg.Run.SuccessStatuses = v.(string) },
		extract: func(cfg Config) any { return cfg.Run.SuccessStatuses },
	},
	{
		key: "run.failure_statuses", typ: kString, env: "PRODSCRIBE_RUN_FAILURE_STATUSES",
		apply:   func(cfg *Config, v any) { cfg.Run.FailureStatuses = v.(string) },
		extract: func(cfg Config) any { return cfg.Run.FailureStatuses },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PRODSCRIBE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.history_enabled", typ: kBool, env: "PRODSCRIBE_STORAGE_HISTORY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Storage.HistoryEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.HistoryEnabled },
	},
	{
		key: "payload.fixtures_file", typ: kString, env: "PRODSCRIBE_PAYLOAD_FIXTURES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Payload.FixturesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Payload.FixturesFile },
	},
	{
		key: "log.level", typ: kString, env: "PRODSCRIBE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseRaw converts a textual value to the Go type the spec expects.
func parseRaw(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret || s.envFile {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			if pv, err := parseRaw(s.typ, v); err == nil {
				s.apply(cfg, pv)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, v, err)
			}
		}
	}
	return nil
}

// applyEnvMap applies values keyed by env var name, such as the contents
// of the .env file.
func applyEnvMap(cfg *Config, vals map[string]string) {
	applyLookup(cfg, "env file", func(name string) string { return vals[name] })
}

func applyEnvOverrides(cfg *Config) {
	applyLookup(cfg, "env var", os.Getenv)
}

func applyLookup(cfg *Config, source string, lookup func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := s.env, lookup(s.env)
		for _, alias := range s.aliases {
			if raw != "" {
				break
			}
			name, raw = alias, lookup(alias)
		}
		if raw == "" {
			continue
		}
		v, err := parseRaw(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from %s %s=%q: %v. Using default value.\n", typeName(s.typ), source, name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
