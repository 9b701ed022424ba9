package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
)

// SyncCmd should be used to represent the 'sync' command.
type SyncCmd struct {
	*cmd.BaseCmd
	Force bool
}

// NewSyncCmd creates a newly configured (Cobra) command.
func NewSyncCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &SyncCmd{BaseCmd: baseCmd}

	cobraCommand := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the MCP server catalog snapshot",
		Long:  "Fetches the full server catalog and replaces the local snapshot. Without --force the sync is skipped while the snapshot is fresh.",
		RunE:  c.run,
	}

	cobraCommand.Flags().BoolVar(&c.Force, "force", false, "sync even when the snapshot is still fresh")

	return cobraCommand
}

func (c *SyncCmd) run(cobraCmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	client, err := newRegistryClient(c.BaseCmd, settings)
	if err != nil {
		return err
	}

	if !c.Force && !client.NeedsSync() {
		_, err := fmt.Fprintf(cobraCmd.OutOrStdout(), "Catalog is fresh (synced %s); use --force to refresh anyway\n",
			client.LastSynced().Format("2006-01-02 15:04:05"))
		return err
	}

	if err := client.Sync(cobraCmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cobraCmd.OutOrStdout(), "Catalog synced.")
	return err
}
