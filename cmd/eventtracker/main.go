package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ubatuba/eventtracker/internal/config"
	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/errs"
	"github.com/ubatuba/eventtracker/internal/events"
	"github.com/ubatuba/eventtracker/internal/logging"
	"github.com/ubatuba/eventtracker/internal/maintenance"
	"github.com/ubatuba/eventtracker/internal/metrics"
	"github.com/ubatuba/eventtracker/internal/schema"
	"github.com/ubatuba/eventtracker/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dbPath     string
	configPath string
	verbosity  int
	port       int
	bind       string
)

// Exit codes per failing stage
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitSchema        = 3
)

// stageError tags a startup failure with the stage that produced it
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stage(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: name, err: err}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "eventtracker",
		Short:         "Eventtracker - event store backend",
		Long:          `Eventtracker stores tracked events in SQLite and serves them over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (or set DB_NAME env var)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set CONFIG_PATH env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	migrateCmd := &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"init-db"},
		Short:   "Create database tables",
		RunE:    runMigrate,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Ensure the schema and serve the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (or set PORT env var)")
	serveCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")

	rootCmd.AddCommand(migrateCmd, serveCmd, &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("eventtracker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportFailure(err))
	}
}

// reportFailure logs which stage failed and returns the exit code
func reportFailure(err error) int {
	name := "startup"
	var se *stageError
	if errors.As(err, &se) {
		name = se.stage
		err = se.err
	}

	code := exitFailure
	switch errs.KindOf(err) {
	case errs.KindConfiguration:
		code = exitConfiguration
	case errs.KindSchema:
		code = exitSchema
	}

	log.Error().Err(err).Str("stage", name).Int("exit_code", code).Msg("Eventtracker failed")
	return code
}

func overrides(cmd *cobra.Command) config.Values {
	v := config.Values{}
	if cmd.Flags().Changed("db") {
		v["database.name"] = dbPath
	}
	if cmd.Flags().Changed("port") {
		v["server.port"] = fmt.Sprint(port)
	}
	if cmd.Flags().Changed("bind") {
		v["server.bind"] = bind
	}
	return v
}

// bootstrap loads config, sets up logging, opens the pool and ensures the schema
func bootstrap(ctx context.Context, cmd *cobra.Command) (*config.Config, *database.Pool, *schema.Initializer, func(), error) {
	// Setup console logging before anything can fail
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}).With().Timestamp().Logger()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(configPath, overrides(cmd))
	if err != nil {
		return nil, nil, nil, nil, stage("configuration", err)
	}
	cfg.Log.Level = logging.LevelForVerbosity(verbosity, cfg.Log.Level)
	logCloser := logging.Apply(cfg.Log, cfg.Database.Name)

	log.Info().
		Str("version", version).
		Str("database", cfg.Database.Name).
		Str("config", cfg.Path).
		Msg("Starting Eventtracker")

	pool, err := database.Open(ctx, cfg.Database.Options())
	if err != nil {
		_ = logCloser.Close()
		if errs.KindOf(err) == errs.KindConnection {
			return nil, nil, nil, nil, stage("connection", err)
		}
		return nil, nil, nil, nil, stage("configuration", err)
	}

	log.Info().Msg("Creating database tables...")
	initializer := schema.NewInitializer()
	if err := initializer.Ensure(ctx, pool, events.Schema); err != nil {
		_ = pool.Close()
		_ = logCloser.Close()
		return nil, nil, nil, nil, stage("schema", err)
	}
	log.Info().Msgf("Database tables created successfully for %s!", cfg.Database.Name)

	cleanup := func() {
		if err := pool.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
		_ = logCloser.Close()
	}
	return cfg, pool, initializer, cleanup, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, _, _, cleanup, err := bootstrap(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	cleanup()
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, pool, initializer, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := metrics.Register(pool.Collector("eventtracker")); err != nil {
		log.Warn().Err(err).Msg("Failed to register pool metrics")
	}

	watcher := config.NewWatcher(cfg, overrides(cmd))
	watcher.OnChange(func(c *config.Config) {
		logging.ApplyLevel(logging.LevelForVerbosity(verbosity, c.Log.Level))
	})
	stopWatch, err := watcher.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to watch config file")
	} else {
		defer stopWatch()
	}

	scheduler := maintenance.New(pool, maintenance.Config{
		Enabled:  cfg.Maintenance.Enabled,
		Schedule: cfg.Maintenance.Schedule,
		Vacuum:   cfg.Maintenance.Vacuum,
	})
	if err := scheduler.Start(); err != nil {
		return stage("configuration", errs.Configuration("maintenance", "", err))
	}
	defer scheduler.Stop()

	server := web.NewServer(pool, initializer, cfg.Server.Port, cfg.Server.Bind)
	server.SetVersionInfo(version, commit, date)

	if err := server.Start(ctx); err != nil {
		return stage("server", err)
	}

	log.Info().Msg("Eventtracker stopped")
	return nil
}
