package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// Chat store migrations are embedded in the binary and applied on open;
// this command exists so deployments can migrate before rolling the service.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAndSetup()
			if err != nil {
				return err
			}
			store, err := openChatStore(cfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer store.Close()
			slog.Info("migrations applied")
			return nil
		},
	}
}
