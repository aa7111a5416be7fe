package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/errs"
)

func TestReportFailureExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "configuration",
			err:  stage("configuration", errs.Configuration("open", "database location is empty", nil)),
			want: exitConfiguration,
		},
		{
			name: "schema",
			err:  stage("schema", errs.Schema("ensure events", "conflicting view with the same name exists", nil)),
			want: exitSchema,
		},
		{
			name: "connection",
			err:  stage("connection", errs.Connection("open", "failed to ping database", errors.New("disk I/O error"))),
			want: exitFailure,
		},
		{
			name: "wrapped schema",
			err:  fmt.Errorf("startup: %w", stage("schema", errs.Schema("ensure", "storage unreachable", nil))),
			want: exitSchema,
		},
		{
			name: "plain error",
			err:  errors.New("unknown command"),
			want: exitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, reportFailure(tt.err))
		})
	}
}

func TestStageLabel(t *testing.T) {
	require.NoError(t, stage("schema", nil))

	err := stage("schema", errs.Schema("ensure", "", nil))
	require.EqualError(t, err, "schema: schema error (ensure)")
	require.ErrorIs(t, err, errs.ErrSchema)
}

func resetFlags(t *testing.T) {
	t.Helper()
	dbPath, configPath, verbosity = "", "", 0
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("LOG_FILE", "")
	t.Cleanup(func() { dbPath, configPath, verbosity = "", "", 0 })
}

func TestBootstrapEmptyDatabaseName(t *testing.T) {
	resetFlags(t)
	t.Setenv("DB_NAME", "")

	_, _, _, _, err := bootstrap(context.Background(), &cobra.Command{})
	require.ErrorIs(t, err, errs.ErrConfiguration)

	var se *stageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "configuration", se.stage)
	require.Equal(t, exitConfiguration, reportFailure(err))
}

func TestBootstrapConflictingTable(t *testing.T) {
	resetFlags(t)
	location := filepath.Join(t.TempDir(), "local_db.sqlite")

	ctx := context.Background()
	pool, err := database.Open(ctx, database.DefaultOptions(location))
	require.NoError(t, err)
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		_, err := s.Exec(ctx, "CREATE VIEW events AS SELECT 1 AS id")
		return err
	}))
	require.NoError(t, pool.Close())

	t.Setenv("DB_NAME", location)
	_, _, _, _, err = bootstrap(ctx, &cobra.Command{})
	require.ErrorIs(t, err, errs.ErrSchema)

	var se *stageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "schema", se.stage)
	require.Equal(t, exitSchema, reportFailure(err))
}

func TestBootstrapCreatesSchema(t *testing.T) {
	resetFlags(t)
	location := filepath.Join(t.TempDir(), "local_db.sqlite")
	t.Setenv("DB_NAME", location)

	cfg, pool, initializer, cleanup, err := bootstrap(context.Background(), &cobra.Command{})
	require.NoError(t, err)
	defer cleanup()

	require.Equal(t, location, cfg.Database.Name)
	require.Equal(t, "ready", initializer.State().String())
	require.NoError(t, pool.Ping(context.Background()))
}
