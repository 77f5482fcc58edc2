package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/docsage/docsage/internal/config"
)

// initCmd walks the user through a minimal starter config. API keys are not
// written to disk; the wizard prints the env vars to set instead.
func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			class := "openai"
			modelName := "gpt-4o"
			apiBase := ""
			portStr := strconv.Itoa(cfg.Services.Port)
			dataRoot := cfg.Global.DataRoot
			usePostgres := false

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Chat model provider").
						Options(
							huh.NewOption("OpenAI", "openai"),
							huh.NewOption("vLLM", "vllm"),
							huh.NewOption("Ollama", "ollama"),
						).
						Value(&class),
					huh.NewInput().
						Title("Model name").
						Value(&modelName),
					huh.NewInput().
						Title("API base URL (empty for provider default)").
						Value(&apiBase),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Data directory").
						Value(&dataRoot),
					huh.NewInput().
						Title("HTTP port").
						Validate(func(s string) error {
							if _, err := strconv.Atoi(s); err != nil {
								return fmt.Errorf("not a number")
							}
							return nil
						}).
						Value(&portStr),
					huh.NewConfirm().
						Title("Use PostgreSQL for the chat store? (otherwise embedded sqlite)").
						Value(&usePostgres),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg.Global.DataRoot = dataRoot
			cfg.Services.Port, _ = strconv.Atoi(portStr)
			cfg.Assistant.Models = map[string]config.ModelConfig{
				"chat":     {Class: class, Name: modelName, APIBase: apiBase},
				"condense": {Class: class, Name: modelName, APIBase: apiBase},
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("Wrote %s\n\n", path)
			fmt.Println("Secrets are read from the environment, not the config file:")
			fmt.Println("  export DOCSAGE_MODEL_CHAT_API_KEY=...")
			fmt.Println("  export DOCSAGE_EMBEDDING_API_KEY=...")
			if usePostgres {
				fmt.Println("  export DOCSAGE_POSTGRES_DSN=postgres://...")
			}
			fmt.Println("\nThen start the service with:  docsage serve")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
