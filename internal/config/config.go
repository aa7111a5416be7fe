package config

import (
	"strings"
	"time"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/errs"
)

const (
	DefaultDBName              = "local_db.sqlite"
	DefaultPort                = 8000
	DefaultLogLevel            = "info"
	DefaultMaintenanceSchedule = "@daily"
)

// Config is the resolved process configuration
type Config struct {
	// Path is the YAML file the config was read from, if any
	Path string

	Database    DatabaseConfig
	Server      ServerConfig
	Log         LogConfig
	Maintenance MaintenanceConfig
}

type DatabaseConfig struct {
	Name           string
	MaxOpenConns   int
	MaxIdleConns   int
	BusyTimeout    time.Duration
	AcquireTimeout time.Duration
}

type ServerConfig struct {
	Port int
	Bind string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type MaintenanceConfig struct {
	Enabled  bool
	Schedule string
	Vacuum   bool
}

// Load resolves settings from overrides, the environment, the YAML file at
// path (optional) and defaults, in that order of precedence.
func Load(path string, overrides Values) (*Config, error) {
	sources := Layered{overrides, NewEnvSettings()}
	if path != "" {
		file, err := ReadFile(path)
		if err != nil {
			return nil, errs.Configuration("load", "failed to read config file", err)
		}
		sources = append(sources, file)
	}

	cfg, err := FromLoader(NewLoader(sources))
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// FromLoader builds a Config from typed settings
func FromLoader(l *Loader) (*Config, error) {
	defaults := database.DefaultOptions("")

	name, ok := l.Lookup("database.name")
	if !ok {
		name = DefaultDBName
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Configuration("load", "database name is set but empty", nil)
	}

	return &Config{
		Database: DatabaseConfig{
			Name:           name,
			MaxOpenConns:   l.Int("database.max_open_conns", defaults.MaxOpenConns),
			MaxIdleConns:   l.Int("database.max_idle_conns", defaults.MaxIdleConns),
			BusyTimeout:    l.Duration("database.busy_timeout", defaults.BusyTimeout),
			AcquireTimeout: l.Duration("database.acquire_timeout", defaults.AcquireTimeout),
		},
		Server: ServerConfig{
			Port: l.Int("server.port", DefaultPort),
			Bind: l.String("server.bind", ""),
		},
		Log: LogConfig{
			Level:      strings.ToLower(l.String("log.level", DefaultLogLevel)),
			File:       l.String("log.file", ""),
			MaxSizeMB:  l.Int("log.max_size_mb", 50),
			MaxBackups: l.Int("log.max_backups", 5),
			MaxAgeDays: l.Int("log.max_age_days", 30),
			Compress:   l.Bool("log.compress", true),
		},
		Maintenance: MaintenanceConfig{
			Enabled:  l.Bool("maintenance.enabled", true),
			Schedule: l.String("maintenance.schedule", DefaultMaintenanceSchedule),
			Vacuum:   l.Bool("maintenance.vacuum", false),
		},
	}, nil
}

// Options converts the database settings into pool options
func (c DatabaseConfig) Options() database.Options {
	opts := database.DefaultOptions(c.Name)
	if c.MaxOpenConns > 0 {
		opts.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		opts.MaxIdleConns = c.MaxIdleConns
	}
	if c.BusyTimeout > 0 {
		opts.BusyTimeout = c.BusyTimeout
	}
	if c.AcquireTimeout >= 0 {
		opts.AcquireTimeout = c.AcquireTimeout
	}
	return opts
}
