package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// RemoveCmd should be used to represent the 'remove' command.
type RemoveCmd struct {
	*cmd.BaseCmd
	Scope string
}

// NewRemoveCmd creates a newly configured (Cobra) command.
func NewRemoveCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &RemoveCmd{BaseCmd: baseCmd}

	cobraCommand := &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Remove an MCP server from the configuration",
		Long: `Removes a server definition. Without --scope the first definition found is
removed, searching local, then project, then user scope.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(&c.Scope, "scope", "", "remove from a specific scope: user, project or local")

	return cobraCommand
}

func (c *RemoveCmd) run(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])

	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}

	var scopes []config.Scope
	if s := strings.ToLower(strings.TrimSpace(c.Scope)); s != "" {
		scope := config.Scope(s)
		if !scope.Valid() {
			return fmt.Errorf("%w: unknown scope '%s'", errors.ErrBadRequest, c.Scope)
		}
		scopes = append(scopes, scope)
	}

	if err := store.Remove(id, scopes...); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "Removed server '%s'\n", id)
	return err
}
