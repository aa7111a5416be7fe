package schema

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/errs"
)

var widgets = EntitySchema{
	Name: "widgets",
	Columns: []Column{
		{Name: "id", Type: Text, PrimaryKey: true, NotNull: true},
		{Name: "name", Type: Text, NotNull: true},
		{Name: "weight", Type: Real},
		{Name: "created_at", Type: Timestamp, NotNull: true},
	},
	Indexes: []Index{
		{Name: "idx_widgets_name", Columns: []string{"name"}},
	},
}

func openTestPool(t *testing.T) *database.Pool {
	t.Helper()
	pool, err := database.Open(context.Background(), database.DefaultOptions(filepath.Join(t.TempDir(), "test_db.sqlite")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func execSQL(t *testing.T, pool *database.Pool, query string, args ...any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		_, err := s.Exec(ctx, query, args...)
		return err
	}))
}

func tableSQL(t *testing.T, pool *database.Pool, name string) string {
	t.Helper()
	ctx := context.Background()
	var ddl string
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		return s.Get(ctx, &ddl, "SELECT sql FROM sqlite_master WHERE name = ?", name)
	}))
	return ddl
}

func TestEnsureCreatesTable(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	initializer := NewInitializer()
	require.Equal(t, Uninitialized, initializer.State())

	require.NoError(t, initializer.Ensure(ctx, pool, widgets))
	require.Equal(t, Ready, initializer.State())
	require.NoError(t, initializer.Err())

	ok, err := Exists(ctx, pool, "widgets")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Exists(ctx, pool, "idx_widgets_name")
	require.NoError(t, err)
	require.False(t, ok, "indexes are not tables")

	var idx int
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		return s.Get(ctx, &idx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_widgets_name'")
	}))
	require.Equal(t, 1, idx)
}

func TestEnsureIsIdempotent(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	require.NoError(t, Ensure(ctx, pool, widgets))
	before := tableSQL(t, pool, "widgets")
	appliedBefore, err := ListApplied(ctx, pool)
	require.NoError(t, err)

	execSQL(t, pool, "INSERT INTO widgets (id, name, created_at) VALUES ('w1', 'gear', CURRENT_TIMESTAMP)")

	require.NoError(t, Ensure(ctx, pool, widgets))
	require.Equal(t, before, tableSQL(t, pool, "widgets"))

	appliedAfter, err := ListApplied(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, appliedBefore, appliedAfter)
	require.Len(t, appliedAfter, 1)
	require.Equal(t, "widgets", appliedAfter[0].Name)
	require.Equal(t, len(widgets.Columns), appliedAfter[0].Columns)

	var count int
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		return s.Get(ctx, &count, "SELECT COUNT(*) FROM widgets")
	}))
	require.Equal(t, 1, count)
}

func TestEnsureDetectsTypeConflict(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	execSQL(t, pool, "CREATE TABLE widgets (id TEXT PRIMARY KEY, name INTEGER, weight REAL, created_at TIMESTAMP)")
	before := tableSQL(t, pool, "widgets")

	initializer := NewInitializer()
	err := initializer.Ensure(ctx, pool, widgets)
	require.ErrorIs(t, err, errs.ErrSchema)
	require.Contains(t, err.Error(), "column name")
	require.Equal(t, Failed, initializer.State())
	require.ErrorIs(t, initializer.Err(), errs.ErrSchema)

	require.Equal(t, before, tableSQL(t, pool, "widgets"), "existing table must not be altered")
}

func TestEnsureDetectsIndexConflict(t *testing.T) {
	const table = "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT NOT NULL, weight REAL, created_at TIMESTAMP NOT NULL)"

	tests := []struct {
		name  string
		setup []string
	}{
		{
			name:  "unique on another column",
			setup: []string{table, "CREATE UNIQUE INDEX idx_widgets_name ON widgets (weight)"},
		},
		{
			name:  "unique flag differs",
			setup: []string{table, "CREATE UNIQUE INDEX idx_widgets_name ON widgets (name)"},
		},
		{
			name:  "extra column",
			setup: []string{table, "CREATE INDEX idx_widgets_name ON widgets (name, weight)"},
		},
		{
			name:  "partial index",
			setup: []string{table, "CREATE INDEX idx_widgets_name ON widgets (name) WHERE weight > 0"},
		},
		{
			name: "other table",
			setup: []string{
				table,
				"CREATE TABLE gadgets (name TEXT)",
				"CREATE INDEX idx_widgets_name ON gadgets (name)",
			},
		},
		{
			name:  "table with the index name",
			setup: []string{table, "CREATE TABLE idx_widgets_name (name TEXT)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := openTestPool(t)
			for _, stmt := range tt.setup {
				execSQL(t, pool, stmt)
			}

			initializer := NewInitializer()
			err := initializer.Ensure(context.Background(), pool, widgets)
			require.ErrorIs(t, err, errs.ErrSchema)
			require.Contains(t, err.Error(), "idx_widgets_name")
			require.Equal(t, Failed, initializer.State())
		})
	}
}

func TestEnsureAcceptsMatchingIndex(t *testing.T) {
	pool := openTestPool(t)
	execSQL(t, pool, "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT NOT NULL, weight REAL, created_at TIMESTAMP NOT NULL)")
	execSQL(t, pool, "CREATE INDEX IDX_WIDGETS_NAME ON widgets (NAME)")

	require.NoError(t, Ensure(context.Background(), pool, widgets))
}

func TestEnsureDetectsMissingColumn(t *testing.T) {
	pool := openTestPool(t)
	execSQL(t, pool, "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT)")

	err := Ensure(context.Background(), pool, widgets)
	require.ErrorIs(t, err, errs.ErrSchema)
	require.Contains(t, err.Error(), "missing column weight")
}

func TestEnsureDetectsNonTableConflict(t *testing.T) {
	pool := openTestPool(t)
	execSQL(t, pool, "CREATE VIEW widgets AS SELECT 1 AS id")

	err := Ensure(context.Background(), pool, widgets)
	require.ErrorIs(t, err, errs.ErrSchema)
	require.Contains(t, err.Error(), "view")
}

func TestEnsureToleratesExtraColumnsAndAddsIndexes(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	execSQL(t, pool, "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT NOT NULL, weight REAL, created_at TIMESTAMP NOT NULL, color TEXT)")

	require.NoError(t, Ensure(ctx, pool, widgets))

	var idx int
	require.NoError(t, pool.WithSession(ctx, func(s *database.Session) error {
		return s.Get(ctx, &idx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_widgets_name'")
	}))
	require.Equal(t, 1, idx)
	require.Contains(t, tableSQL(t, pool, "widgets"), "color")
}

func TestEnsureRecoversAfterFailure(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	initializer := NewInitializer()

	bad := EntitySchema{Name: "bad name", Columns: []Column{{Name: "id", Type: Text}}}
	require.ErrorIs(t, initializer.Ensure(ctx, pool, bad), errs.ErrSchema)
	require.Equal(t, Failed, initializer.State())

	require.NoError(t, initializer.Ensure(ctx, pool, widgets))
	require.Equal(t, Ready, initializer.State())
	require.NoError(t, initializer.Err())
}

func TestEnsureOnClosedPool(t *testing.T) {
	pool := openTestPool(t)
	require.NoError(t, pool.Close())

	err := Ensure(context.Background(), pool, widgets)
	require.ErrorIs(t, err, errs.ErrSchema)
	require.ErrorIs(t, err, errs.ErrConnection)
	require.Equal(t, errs.KindSchema, errs.KindOf(err))
}

func TestEnsureConcurrentInitializers(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = NewInitializer().Ensure(ctx, pool, widgets)
		}()
	}
	wg.Wait()

	for _, err := range results {
		require.NoError(t, err)
	}
	ok, err := Exists(ctx, pool, "widgets")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		schema EntitySchema
		want   string
	}{
		{"empty name", EntitySchema{Columns: []Column{{Name: "id", Type: Text}}}, "invalid table name"},
		{"no columns", EntitySchema{Name: "things"}, "no columns"},
		{"bad column", EntitySchema{Name: "things", Columns: []Column{{Name: "id;drop", Type: Text}}}, "invalid column name"},
		{"duplicate column", EntitySchema{Name: "things", Columns: []Column{{Name: "id", Type: Text}, {Name: "ID", Type: Text}}}, "duplicate column"},
		{"bad type", EntitySchema{Name: "things", Columns: []Column{{Name: "id", Type: "JSON"}}}, "unsupported type"},
		{"unknown index column", EntitySchema{
			Name:    "things",
			Columns: []Column{{Name: "id", Type: Text}},
			Indexes: []Index{{Name: "idx_things_x", Columns: []string{"x"}}},
		}, "unknown column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
	require.NoError(t, widgets.Validate())
}

func TestCreateTableSQLCompositeKey(t *testing.T) {
	s := EntitySchema{
		Name: "links",
		Columns: []Column{
			{Name: "a", Type: Integer, PrimaryKey: true},
			{Name: "b", Type: Integer, PrimaryKey: true},
		},
	}
	ddl := s.createTableSQL()
	require.Contains(t, ddl, "PRIMARY KEY (a, b)")
	require.Equal(t, 1, strings.Count(ddl, "PRIMARY KEY"))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", Uninitialized.String())
	require.Equal(t, "initializing", Initializing.String())
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "failed", Failed.String())
}
