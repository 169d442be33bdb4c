package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/shabadfinder/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage shabadfinder configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Generative.APIKey != "" {
			shown.Generative.APIKey = "********"
		}
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}
		argv, err := shellwords.Parse(editor)
		if err != nil || len(argv) == 0 {
			return fmt.Errorf("invalid EDITOR %q", editor)
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		fmt.Printf("Opening %s with %s...\n", configPath, argv[0])

		c := exec.CommandContext(cmd.Context(), argv[0], append(argv[1:], configPath)...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor failed: %w", err)
		}

		if _, err := config.Load(configPath); err != nil {
			return fmt.Errorf("config is invalid after edit: %w", err)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}
