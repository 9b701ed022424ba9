package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
)

// EnableCmd should be used to represent the 'enable' and 'disable' commands.
type EnableCmd struct {
	*cmd.BaseCmd
	enable bool
}

// NewEnableCmd creates a newly configured (Cobra) command.
func NewEnableCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &EnableCmd{BaseCmd: baseCmd, enable: true}

	return &cobra.Command{
		Use:   "enable <server-id>",
		Short: "Enable a configured MCP server",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
}

// NewDisableCmd creates a newly configured (Cobra) command.
func NewDisableCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &EnableCmd{BaseCmd: baseCmd, enable: false}

	return &cobra.Command{
		Use:   "disable <server-id>",
		Short: "Disable a configured MCP server without removing it",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
}

func (c *EnableCmd) run(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])

	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}

	if err := store.SetEnabled(id, c.enable); err != nil {
		return err
	}

	verb := "Enabled"
	if !c.enable {
		verb = "Disabled"
	}
	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "%s server '%s'\n", verb, id)
	return err
}
