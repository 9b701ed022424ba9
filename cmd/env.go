package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
)

// EnvCmd should be used to represent the 'env set' command.
type EnvCmd struct {
	*cmd.BaseCmd
}

// NewEnvCmd creates a newly configured (Cobra) command.
func NewEnvCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &EnvCmd{BaseCmd: baseCmd}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environment variables for configured servers",
	}

	envCmd.AddCommand(&cobra.Command{
		Use:   "set <server-id> KEY=VALUE [KEY=VALUE ...]",
		Short: "Set environment variables on a server definition",
		Long:  "Merges the given variables into the server's definition in its owning scope. Existing keys are overwritten.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  c.runSet,
	})

	return envCmd
}

func (c *EnvCmd) runSet(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])

	patch, err := parseKeyValues(args[1:])
	if err != nil {
		return err
	}

	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}

	if err := store.UpdateEnv(id, patch); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "Updated %d environment variable(s) on server '%s'\n", len(patch), id)
	return err
}
