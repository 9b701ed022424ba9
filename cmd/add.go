package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// AddCmd should be used to represent the 'add' command.
type AddCmd struct {
	*cmd.BaseCmd
	FromRegistry bool
	Scope        string
	Name         string
	Transport    string
	Command      string
	Args         []string
	URL          string
	Env          []string
	Headers      []string
	Disabled     bool
}

// NewAddCmd creates a newly configured (Cobra) command.
func NewAddCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &AddCmd{BaseCmd: baseCmd}

	cobraCommand := &cobra.Command{
		Use:   "add <server-id>",
		Short: "Add an MCP server to the configuration",
		Long: `Adds an MCP server definition to one of the configuration scopes.
With --registry the definition is generated from the public server catalog;
otherwise transport details are taken from flags.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(&c.FromRegistry, "registry", false, "generate the definition from the server catalog")
	cobraCommand.Flags().StringVar(&c.Scope, "scope", string(config.ScopeLocal), "configuration scope: user, project or local")
	cobraCommand.Flags().StringVar(&c.Name, "name", "", "human-readable server name (defaults to the id)")
	cobraCommand.Flags().StringVar(&c.Transport, "transport", string(config.TransportStdio), "transport: stdio, http, sse or websocket")
	cobraCommand.Flags().StringVar(&c.Command, "cmd", "", "command to launch (stdio transport)")
	cobraCommand.Flags().StringArrayVar(&c.Args, "arg", nil, "command argument, repeatable (stdio transport)")
	cobraCommand.Flags().StringVar(&c.URL, "url", "", "server URL (http, sse and websocket transports)")
	cobraCommand.Flags().StringArrayVar(&c.Env, "env", nil, "environment variable as KEY=VALUE, repeatable")
	cobraCommand.Flags().StringArrayVar(&c.Headers, "header", nil, "HTTP header as KEY=VALUE, repeatable")
	cobraCommand.Flags().BoolVar(&c.Disabled, "disabled", false, "add the server in a disabled state")

	return cobraCommand
}

func (c *AddCmd) run(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])

	scope := config.Scope(strings.ToLower(strings.TrimSpace(c.Scope)))
	if !scope.Valid() {
		return fmt.Errorf("%w: unknown scope '%s'", errors.ErrBadRequest, c.Scope)
	}

	env, err := parseKeyValues(c.Env)
	if err != nil {
		return err
	}

	def, err := c.buildDefinition(id, env)
	if err != nil {
		return err
	}
	def.Scope = scope
	def.Disabled = c.Disabled

	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}
	if err := store.Add(def); err != nil {
		return err
	}

	p, err := printer()
	if err != nil {
		return err
	}
	return p.Result(def)
}

func (c *AddCmd) buildDefinition(id string, env map[string]string) (config.ServerDefinition, error) {
	if c.FromRegistry {
		settings, err := loadSettings()
		if err != nil {
			return config.ServerDefinition{}, err
		}
		client, err := newRegistryClient(c.BaseCmd, settings)
		if err != nil {
			return config.ServerDefinition{}, err
		}
		return client.GenerateServerConfig(id, env)
	}

	headers, err := parseKeyValues(c.Headers)
	if err != nil {
		return config.ServerDefinition{}, err
	}

	name := c.Name
	if name == "" {
		name = id
	}

	def := config.ServerDefinition{
		ID:        id,
		Name:      name,
		Transport: config.Transport(strings.ToLower(strings.TrimSpace(c.Transport))),
		Command:   c.Command,
		Args:      c.Args,
		URL:       c.URL,
		Env:       env,
		Headers:   headers,
	}
	return def, def.Validate()
}

// parseKeyValues parses repeated KEY=VALUE flags into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("%w: expected KEY=VALUE, got '%s'", errors.ErrBadRequest, pair)
		}
		out[key] = value
	}
	return out, nil
}
