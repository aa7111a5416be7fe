package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrNotSet is returned by a source that does not define a key
var ErrNotSet = errors.New("setting not set")

// envKeys maps dotted setting keys to environment variables
var envKeys = map[string]string{
	"database.name":            "DB_NAME",
	"database.max_open_conns":  "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":  "DB_MAX_IDLE_CONNS",
	"database.busy_timeout":    "DB_BUSY_TIMEOUT",
	"database.acquire_timeout": "DB_ACQUIRE_TIMEOUT",
	"server.port":              "PORT",
	"server.bind":              "BIND",
	"log.level":                "LOG_LEVEL",
	"log.file":                 "LOG_FILE",
	"log.max_size_mb":          "LOG_MAX_SIZE_MB",
	"log.max_backups":          "LOG_MAX_BACKUPS",
	"log.max_age_days":         "LOG_MAX_AGE_DAYS",
	"log.compress":             "LOG_COMPRESS",
	"maintenance.enabled":      "MAINTENANCE_ENABLED",
	"maintenance.schedule":     "MAINTENANCE_SCHEDULE",
	"maintenance.vacuum":       "MAINTENANCE_VACUUM",
}

// EnvSettings reads settings from the process environment
type EnvSettings struct {
	lookup func(string) (string, bool)
}

// NewEnvSettings reads from os.LookupEnv
func NewEnvSettings() EnvSettings {
	return EnvSettings{lookup: os.LookupEnv}
}

func (e EnvSettings) GetSetting(key string) (string, error) {
	name, ok := envKeys[key]
	if !ok {
		return "", ErrNotSet
	}
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(name)
	if !ok {
		return "", ErrNotSet
	}
	return val, nil
}

// Values is a flat map of dotted keys, used for flag overrides and parsed files
type Values map[string]string

func (v Values) GetSetting(key string) (string, error) {
	val, ok := v[key]
	if !ok {
		return "", ErrNotSet
	}
	return val, nil
}

// Layered consults each source in order and returns the first non-empty
// value. A key defined only as empty strings resolves to "" without error.
type Layered []SettingsGetter

func (l Layered) GetSetting(key string) (string, error) {
	found := false
	for _, src := range l {
		if src == nil {
			continue
		}
		val, err := src.GetSetting(key)
		if err != nil {
			continue
		}
		if val != "" {
			return val, nil
		}
		found = true
	}
	if found {
		return "", nil
	}
	return "", ErrNotSet
}

// ReadFile parses a YAML config file into flat dotted keys
func ReadFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	values := Values{}
	flatten("", tree, values)
	return values, nil
}

func flatten(prefix string, node map[string]any, out Values) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		case string:
			out[key] = val
		case int:
			out[key] = strconv.Itoa(val)
		case bool:
			out[key] = strconv.FormatBool(val)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
