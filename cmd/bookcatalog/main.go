package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/bookcatalog/internal/books"
	"github.com/saltyorg/bookcatalog/internal/config"
	"github.com/saltyorg/bookcatalog/internal/demo"
	"github.com/saltyorg/bookcatalog/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultDBPath = "./books.db"

// CLI flags
var (
	dbPath         string
	configPath     string
	logFile        string
	verbosity      int
	maxConcurrency int
	vacuum         bool

	// Timeout flags (advanced)
	busyTimeout     time.Duration
	shutdownTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bookcatalog",
		Short:        "Bookcatalog - book repository walkthrough",
		Long:         `Bookcatalog seeds a SQLite book catalog, then lists, fetches, updates and deletes books, printing a table after each step.`,
		RunE:         run,
		SilenceUsage: true,
	}

	defaults := config.DefaultTimeoutConfig()

	// Flags
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", defaultDBPath, "SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Optional TOML config file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: next to the database)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	rootCmd.Flags().BoolVar(&vacuum, "vacuum", false, "Rebuild the database file before exiting")
	rootCmd.Flags().IntVar(&maxConcurrency, "max-concurrency", books.DefaultMaxConcurrency, "Maximum operations holding a transaction at once")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&busyTimeout, "busy-timeout", defaults.BusyTimeout, "How long SQLite waits on a locked database")
	rootCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaults.ShutdownDrain, "How long shutdown waits for in-flight operations")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bookcatalog %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	loader := config.NewLoader(settings)
	flags := cmd.Flags()

	// Flags win over the config file, which wins over DB_PATH
	if !flags.Changed("db") {
		if cfgDB := loader.String("database.path", ""); cfgDB != "" {
			dbPath = cfgDB
		} else if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}
	if !flags.Changed("max-concurrency") {
		maxConcurrency = loader.Int("database.max_concurrency", maxConcurrency)
	}
	if !flags.Changed("busy-timeout") {
		busyTimeout = loader.Duration("database.busy_timeout", busyTimeout)
	}
	if !flags.Changed("shutdown-timeout") {
		shutdownTimeout = loader.Duration("database.shutdown_timeout", shutdownTimeout)
	}
	if !flags.Changed("vacuum") {
		vacuum = loader.Bool("database.vacuum_on_shutdown", vacuum)
	}
	if !flags.Changed("log-file") {
		logFile = loader.String("log.file", logging.FilePathForDB(dbPath))
	}

	// Setup logging
	logging.Apply(logging.LevelFromVerbosity(verbosity, loader.String("log.level", "info")), loader, logFile)

	// Configure global timeouts
	config.SetGlobalTimeouts(&config.TimeoutConfig{
		BusyTimeout:   busyTimeout,
		ShutdownDrain: shutdownTimeout,
	})

	log.Info().
		Str("version", version).
		Str("database", dbPath).
		Str("config", settings.Path()).
		Int("max_concurrency", maxConcurrency).
		Bool("vacuum", vacuum).
		Msg("Starting Bookcatalog")

	repo := books.New(dbPath,
		books.WithMaxConcurrency(maxConcurrency),
		books.WithVacuumOnShutdown(vacuum),
	)
	if err := repo.Initialize(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize book repository")
		return err
	}
	defer func() {
		if err := repo.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Failed to shut down book repository")
		}
	}()

	if err := demo.Run(repo, cmd.OutOrStdout()); err != nil {
		log.Error().Err(err).Msg("Walkthrough failed")
		return err
	}

	log.Info().Msg("Bookcatalog finished")
	return nil
}
