package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dougsko/mm3d/pkg/client"
	"github.com/dougsko/mm3d/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Socket  string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func (o *RootOptions) client() *client.SocketClient {
	c := client.NewSocketClient(o.Socket)
	c.SetTimeout(o.Timeout)
	return c
}

// NewRootCommand creates the root command for mm3ctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mm3ctl",
		Short: "mm3ctl - MM-3 contest keyer control tool",
		Long: `Control a running mm3d daemon over its Unix socket.

Examples:
  mm3ctl status
  mm3ctl send F1
  mm3ctl log W1AW 05
  mm3ctl raw 'SPEED:28'
  echo 'STATUS' | nc -U /tmp/mm3d.sock`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Timeout <= 0 {
				return fmt.Errorf("timeout must be positive")
			}
			if opts.Socket == "" {
				return fmt.Errorf("socket path is required")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Socket, "socket", "s", config.DefaultSocketPath, "Unix socket path")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-command deadline, raise for long macro sends")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewMacrosCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewQSOsCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSpeedCommand(opts))
	cmd.AddCommand(NewTuneCommand(opts))
	cmd.AddCommand(NewRepeatCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewQRZCommand(opts))
	cmd.AddCommand(NewRawCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
