package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/cmd/output"
	"github.com/agentdeck/agentdeck/internal/config"
)

// ListCmd should be used to represent the 'list' command.
type ListCmd struct {
	*cmd.BaseCmd
}

// NewListCmd creates a newly configured (Cobra) command.
func NewListCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &ListCmd{BaseCmd: baseCmd}

	return &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers across all scopes",
		Long:  "Lists the merged view of configured servers: user scope overridden by project, overridden by local.",
		RunE:  c.run,
	}
}

func (c *ListCmd) run(_ *cobra.Command, _ []string) error {
	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}

	defs := store.All()
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p, err := printer()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		_, err := fmt.Fprintln(p.Writer(), "No servers configured.")
		return err
	}

	items := make([]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, defs[id])
	}

	if format, _ := output.ParseFormat(formatFlag); format == output.FormatText {
		for _, id := range ids {
			def := defs[id]
			if err := printServerLine(p, def); err != nil {
				return err
			}
		}
		return nil
	}

	return p.Results(items...)
}

func printServerLine(p *output.Printer, def config.ServerDefinition) error {
	state := ""
	if def.Disabled {
		state = " (disabled)"
	}

	target := def.Command
	if def.URL != "" {
		target = def.URL
	}

	_, err := fmt.Fprintf(p.Writer(), "%-24s %-8s %-10s %s%s\n", def.ID, def.Scope, def.Transport, target, state)
	return err
}
