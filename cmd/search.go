package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/cmd/output"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// SearchCmd should be used to represent the 'search' command.
type SearchCmd struct {
	*cmd.BaseCmd
	Category  string
	Transport string
	Tag       string
}

// NewSearchCmd creates a newly configured (Cobra) command.
func NewSearchCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &SearchCmd{BaseCmd: baseCmd}

	cobraCommand := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the MCP server catalog",
		Long: `Searches the synced server catalog by name, description and tags.
Run 'agentdeck sync' first if the catalog has never been fetched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(&c.Category, "category", "", "restrict results to one category")
	cobraCommand.Flags().StringVar(&c.Transport, "transport", "", "restrict results to entries supporting a transport")
	cobraCommand.Flags().StringVar(&c.Tag, "tag", "", "restrict results to entries carrying a tag")

	return cobraCommand
}

func (c *SearchCmd) run(cobraCmd *cobra.Command, args []string) error {
	query := ""
	if len(args) > 0 {
		query = strings.TrimSpace(args[0])
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	client, err := newRegistryClient(c.BaseCmd, settings)
	if err != nil {
		return err
	}

	if client.NeedsSync() {
		if err := client.Sync(cobraCmd.Context()); err != nil {
			c.Logger().Warn("Catalog sync failed, searching cached snapshot", "error", err)
		}
	}

	entries := client.Search(query, registry.Filters{
		Category:  c.Category,
		Transport: c.Transport,
		Tag:       c.Tag,
	})

	p, err := printer()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(p.Writer(), "No matching servers found.")
		return err
	}

	if format, _ := output.ParseFormat(formatFlag); format == output.FormatText {
		for _, entry := range entries {
			desc := entry.Description
			if len(desc) > 72 {
				desc = desc[:69] + "..."
			}
			if _, err := fmt.Fprintf(p.Writer(), "%-32s %-12s %s\n", entry.ID, entry.Category, desc); err != nil {
				return err
			}
		}
		return nil
	}

	items := make([]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry)
	}
	return p.Results(items...)
}
