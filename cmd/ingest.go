package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/ingest"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Corpus management",
	}
	cmd.AddCommand(ingestRunCmd())
	cmd.AddCommand(ingestGCCmd())
	return cmd
}

func loadAndSetup() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func ingestRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [source]",
		Short: "Run one ingestion pass (all sources, or a single named source)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndSetup()
			if err != nil {
				return err
			}
			cat, idx, err := openCorpus(cfg)
			if err != nil {
				return fmt.Errorf("open corpus: %w", err)
			}
			defer idx.Close()

			mgr := ingest.NewManager(cat, idx)
			mgr.Configure(cfg)

			var stats ingest.CollectStats
			if len(args) == 1 {
				stats, err = mgr.RunSource(cmd.Context(), args[0])
			} else {
				stats, err = mgr.RunAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			slog.Info("ingestion pass complete",
				"collected", stats.Collected,
				"skipped", stats.Skipped,
				"failed", stats.Failed,
			)
			return nil
		},
	}
}

func ingestGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove soft-deleted documents from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndSetup()
			if err != nil {
				return err
			}
			cat, idx, err := openCorpus(cfg)
			if err != nil {
				return fmt.Errorf("open corpus: %w", err)
			}
			defer idx.Close()

			removed, err := cat.GC()
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			if _, err := idx.Sync(cmd.Context(), cat); err != nil {
				slog.Warn("index sync after gc failed", "error", err)
			}
			fmt.Fprintf(os.Stdout, "removed %d documents\n", removed)
			return nil
		},
	}
}
