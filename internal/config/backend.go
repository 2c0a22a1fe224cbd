package config

// ConfigBackend is where non-secret settings persist between runs:
// UserDefaults on macOS, a YAML file under XDG_CONFIG_HOME elsewhere.
// Keys are the dotted names from specs (e.g. "run.timeout"). ok reports
// whether the key is set; an unset key keeps its default.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
