package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/docsage/docsage/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "docsage",
	Short: "DocSage — retrieval-augmented documentation assistant",
	Long:  "DocSage ingests websites, git repositories and ticket systems into a hybrid search index and answers questions over the corpus with streaming, traceable model pipelines.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml or $DOCSAGE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("docsage %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("DOCSAGE_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// setupLogging installs the default slog handler. The --verbose flag wins
// over the configured verbosity.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Global.Verbosity {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
