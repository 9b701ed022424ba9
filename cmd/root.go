// Package cmd wires the agentdeck CLI: project-scoped server configuration,
// registry search and sync, and the long-running daemon.
package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/cmd/output"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/files"
	"github.com/agentdeck/agentdeck/internal/flags"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// settingsFileName is the TOML settings file inside the user config dir.
const settingsFileName = "config.toml"

var formatFlag string

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the fully wired root command.
func NewRootCmd() *cobra.Command {
	base := &cmd.BaseCmd{}

	rootCmd := &cobra.Command{
		Use:          "agentdeck <command> [args]",
		Short:        "'agentdeck' manages MCP servers for agent projects: configuration, discovery and routing.",
		Long: `The 'agentdeck' CLI manages Model Context Protocol servers for agent projects:
configure servers across user, project and local scopes, browse the public server
registry, and run the daemon that starts servers and routes tool calls over HTTP.`,
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "text", "output format: json, yaml or text")

	rootCmd.AddCommand(NewInitCmd(base))
	rootCmd.AddCommand(NewAddCmd(base))
	rootCmd.AddCommand(NewRemoveCmd(base))
	rootCmd.AddCommand(NewEnableCmd(base))
	rootCmd.AddCommand(NewDisableCmd(base))
	rootCmd.AddCommand(NewEnvCmd(base))
	rootCmd.AddCommand(NewListCmd(base))
	rootCmd.AddCommand(NewSearchCmd(base))
	rootCmd.AddCommand(NewSyncCmd(base))
	rootCmd.AddCommand(NewDaemonCmd(base))

	return rootCmd
}

// printer builds the output printer for the configured --format.
func printer() (*output.Printer, error) {
	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format), nil
}

// loadStore opens and loads the scope files for the current project directory.
func loadStore(base *cmd.BaseCmd) (*config.Store, error) {
	store, err := config.NewStore(base.Logger(), flags.ProjectDir)
	if err != nil {
		return nil, err
	}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// loadSettings reads the user-level TOML settings, falling back to defaults.
func loadSettings() (config.Settings, error) {
	dir, err := files.UserSpecificConfigDir()
	if err != nil {
		return config.Settings{}, err
	}
	return config.LoadSettings(filepath.Join(dir, settingsFileName))
}

// newRegistryClient builds a catalog client honoring the settings' registry section.
func newRegistryClient(base *cmd.BaseCmd, settings config.Settings) (*registry.Client, error) {
	return registry.NewClient(
		base.Logger(),
		registry.WithURL(settings.Registry.URL),
		registry.WithTTL(time.Duration(settings.Registry.CacheTTL)),
	)
}
