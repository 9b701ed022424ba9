package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/flags"
)

// InitCmd should be used to represent the 'init' command.
type InitCmd struct {
	*cmd.BaseCmd
}

// NewInitCmd creates a newly configured (Cobra) command.
func NewInitCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &InitCmd{BaseCmd: baseCmd}

	return &cobra.Command{
		Use:   "init",
		Short: "Initialize agentdeck configuration in the current project",
		Long:  "Creates the project-scope configuration directory and an empty servers file, ready for 'agentdeck add'.",
		RunE:  c.run,
	}
}

func (c *InitCmd) run(cobraCmd *cobra.Command, _ []string) error {
	store, err := config.NewStore(c.Logger(), flags.ProjectDir)
	if err != nil {
		return err
	}

	if err := store.InitProject(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "Initialized agentdeck project config in '%s'\n", flags.ProjectDir)
	return err
}
