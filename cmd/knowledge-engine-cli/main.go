// Package main provides the Knowledge Engine CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/app"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

const version = "0.3.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool
	operator   string

	// Configuration, logger and output shared by subcommands
	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "knowledge-engine-cli",
	Short: "Operator CLI for the candidate-support knowledge engine",
	Long: `Knowledge Engine CLI manages the FAQ list and the learned knowledge base
behind automated candidate replies.

Use this tool to:
- Apply schema migrations
- Import curated FAQ seed files (YAML or CSV)
- Query the two-tier retrieval without sending anything
- Review generated replies and teach the knowledge base
- Inspect learning statistics and export training data

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Observability.LogLevel
		if !verbose {
			level = "warn"
		}
		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			Output:      os.Stderr,
			ServiceName: "knowledge-engine-cli",
		})
		ui = NewUI(outputJSON, noColor)

		if operator == "" {
			operator = os.Getenv("USER")
		}
		if operator == "" {
			operator = "cli"
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if ui != nil {
			ui.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", "", "operator recorded on audit events (default: $USER)")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newFAQCmd())
	rootCmd.AddCommand(newKBCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newLearnCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newFeedbackCmd())
	rootCmd.AddCommand(newReplyCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newExportTrainingCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ui != nil {
			ui.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openApp wires the engine against the configured database. Migrations are
// not applied here; run the migrate command first.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("open knowledge engine: %w", err)
	}
	return a, nil
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded schema migrations to the configured SQLite or Postgres
database. Already applied versions are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			db, err := app.OpenDatabase(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			spin := ui.NewSpinner(fmt.Sprintf("Migrating %s database", cfg.Database.Driver))
			spin.Start()
			applied, err := storage.Migrate(ctx, db, cfg.Database.Driver)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			if outputJSON {
				if applied == nil {
					applied = []string{}
				}
				return ui.JSON(map[string]interface{}{"driver": cfg.Database.Driver, "applied": applied})
			}
			if len(applied) == 0 {
				ui.Info("Schema is up to date")
				return nil
			}
			for _, v := range applied {
				ui.Step("applied %s", v)
			}
			ui.Success("Applied %d migration(s) on %s", len(applied), cfg.Database.Driver)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return ui.JSON(map[string]string{"version": version})
			}
			fmt.Printf("knowledge-engine-cli v%s\n", version)
			return nil
		},
	}
}
