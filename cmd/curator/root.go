package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/classifier"
	"github.com/docutag/curator/config"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/health"
	"github.com/docutag/curator/storage"
)

var (
	configPath string
	dbDriver   string
	dbDSN      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "curator",
	Short:         "Reorganize bookmarks into AI-chosen folders and prune dead links",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOr("CURATOR_CONFIG", "curator.yaml"), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "Database driver: sqlite or postgres (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "Database DSN or SQLite path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// app holds what a command needs to run against the configured store
type app struct {
	cfg     *config.Config
	db      *db.DB
	curator *curator.Curator
	logger  *slog.Logger
}

func (a *app) Close() error {
	return a.db.Close()
}

// openApp loads configuration and opens the database. withClassifier also
// builds the AI backend, which fails without credentials.
func openApp(ctx context.Context, cmd *cobra.Command, withClassifier bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbDriver != "" {
		cfg.Database.Driver = dbDriver
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
	}

	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	database, err := db.New(cfg.DBConfig())
	if err != nil {
		return nil, err
	}

	var snapshots storage.Store
	if cfg.UseS3() {
		snapshots, err = storage.NewS3Storage(ctx, cfg.S3Config())
	} else {
		snapshots, err = storage.New(storage.Config{BasePath: cfg.Storage.Path})
	}
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var ai classifier.Classifier
	if withClassifier {
		ai, err = classifier.New(ctx, cfg.ClassifierConfig(), logger)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize classifier: %w", err)
		}
	}

	cur := curator.New(cfg.CuratorConfig(), curator.Deps{
		Tree:       database,
		Classifier: ai,
		Snapshots:  snapshots,
		Checker:    health.New(cfg.HealthConfig(), logger),
		Verdicts:   database,
		Logger:     logger,
	})

	return &app{cfg: cfg, db: database, curator: cur, logger: logger}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
