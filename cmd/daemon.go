package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/capability"
	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/daemon"
	"github.com/agentdeck/agentdeck/internal/manager"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	Addr string
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &DaemonCmd{BaseCmd: baseCmd}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--addr]",
		Short: "Launches an agentdeck daemon instance",
		Long:  "Launches an agentdeck daemon instance, which starts configured MCP servers and provides routing via HTTP API.",
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(&c.Addr, "addr", "", "address for the daemon API to bind (overrides settings)")

	return cobraCommand
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
func (c *DaemonCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger := c.Logger()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		settings.Addr = addr
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	store, err := loadStore(c.BaseCmd)
	if err != nil {
		return err
	}

	index := capability.NewIndex(logger, capability.WithSearchTTL(time.Duration(settings.Search.CacheTTL)))
	mgr := manager.New(logger, store, index, settings)

	reg, err := newRegistryClient(c.BaseCmd, settings)
	if err != nil {
		return err
	}

	d, err := daemon.NewDaemon(logger, settings, mgr, reg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(cobraCmd.OutOrStdout(), "Starting agentdeck daemon on %s (CTRL+C to shut down)\n", settings.Addr)

	return d.StartAndManage(ctx)
}
