package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubatuba/eventtracker/internal/errs"
)

func fakeEnv(vars map[string]string) EnvSettings {
	return EnvSettings{lookup: func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaults(t *testing.T) {
	cfg, err := FromLoader(NewLoader(Values{}))
	require.NoError(t, err)

	require.Equal(t, DefaultDBName, cfg.Database.Name)
	require.Equal(t, 10, cfg.Database.MaxOpenConns)
	require.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout)
	require.Equal(t, DefaultPort, cfg.Server.Port)
	require.Equal(t, "info", cfg.Log.Level)
	require.True(t, cfg.Log.Compress)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@daily", cfg.Maintenance.Schedule)
}

func TestLayeredPrecedence(t *testing.T) {
	sources := Layered{
		Values{"database.name": "flag.sqlite"},
		fakeEnv(map[string]string{"DB_NAME": "env.sqlite", "PORT": "9000"}),
		Values{"database.name": "file.sqlite", "server.port": "7000", "log.level": "DEBUG"},
	}
	cfg, err := FromLoader(NewLoader(sources))
	require.NoError(t, err)

	require.Equal(t, "flag.sqlite", cfg.Database.Name)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestExplicitEmptyDatabaseName(t *testing.T) {
	_, err := FromLoader(NewLoader(fakeEnv(map[string]string{"DB_NAME": "  "})))
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestInvalidValuesFallBack(t *testing.T) {
	cfg, err := FromLoader(NewLoader(Values{
		"database.max_open_conns":  "many",
		"database.acquire_timeout": "soon",
		"log.compress":             "maybe",
	}))
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Database.MaxOpenConns)
	require.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout)
	require.True(t, cfg.Log.Compress)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventtracker.yaml")
	writeFile(t, path, `
database:
  name: file.sqlite
  acquire_timeout: 250ms
server:
  port: 7000
maintenance:
  vacuum: true
`)
	t.Setenv("DB_NAME", "env.sqlite")
	t.Setenv("PORT", "")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path)
	require.Equal(t, "env.sqlite", cfg.Database.Name)
	require.Equal(t, 250*time.Millisecond, cfg.Database.AcquireTimeout)
	// empty PORT in the environment does not shadow the file
	require.Equal(t, 7000, cfg.Server.Port)
	require.True(t, cfg.Maintenance.Vacuum)

	opts := cfg.Database.Options()
	require.Equal(t, "env.sqlite", opts.Location)
	require.Equal(t, 250*time.Millisecond, opts.AcquireTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestLoadEmptyEnvDatabaseName(t *testing.T) {
	t.Setenv("DB_NAME", "")
	_, err := Load("", nil)
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestWatcherReload(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "eventtracker.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	cfg, err := Load(path, Values{"database.name": "x.sqlite"})
	require.NoError(t, err)

	w := NewWatcher(cfg, Values{"database.name": "x.sqlite"})
	var level atomic.Value
	w.OnChange(func(c *Config) { level.Store(c.Log.Level) })

	stop, err := w.Watch()
	require.NoError(t, err)
	defer stop()

	writeFile(t, path, "log:\n  level: debug\n")
	require.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "debug", w.Config().Log.Level)
}
