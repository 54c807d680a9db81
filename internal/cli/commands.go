package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/qsolog"
)

// run sends one control command and prints the reply
func run(opts *RootOptions, cmd *cobra.Command, line string) error {
	resp, err := opts.client().Do(line)
	if err != nil {
		return commandFailed(err)
	}
	return printResponse(cmd.OutOrStdout(), opts.Format, resp)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show keyer, log and repeat status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format == "json" {
				return run(opts, cmd, protocol.CmdStatus)
			}
			status, err := opts.client().GetStatus()
			if err != nil {
				return commandFailed(err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Station:   %s  %s\n", status.Callsign, status.Contest)
			fmt.Fprintf(w, "Keyer:     %s, connected=%t\n", status.Device, status.Connected)
			fmt.Fprintf(w, "Mode:      %s  %d WPM  sidetone=%t\n", status.Mode, status.Speed, status.Sidetone)
			fmt.Fprintf(w, "Frequency: %s\n", status.Frequency)
			fmt.Fprintf(w, "Repeat:    enabled=%t active=%t every %ss\n", status.RepeatEnabled, status.RepeatActive, status.RepeatInterval)
			fmt.Fprintf(w, "Log:       %d QSOs, next serial %d\n", status.QSOs, status.NextSerial)
			if status.LastSent != "" {
				fmt.Fprintf(w, "Last sent: %s\n", status.LastSent)
			}
			return nil
		},
	}
}

// NewSendCommand creates the send command.
func NewSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <F1..F12>",
		Short: "Send a function-key macro",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd, protocol.CmdMacro+":"+args[0])
		},
	}
}

// NewQRZCommand creates the qrz command.
func NewQRZCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "qrz [callsign]",
		Short: "Print the QRZ.com page for a callsign, default the one being worked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := protocol.CmdQRZ
			if len(args) == 1 {
				line += ":" + args[0]
			}
			return run(opts, cmd, line)
		},
	}
}

// NewMacrosCommand creates the macros command.
func NewMacrosCommand(opts *RootOptions) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "macros [key [template]]",
		Short: "List macros, or set one",
		Long: `List the function-key macros, or replace one.

Placeholders: {callsign} {rst} {exchange} {mycall} {serial} {rcvd}

Examples:
  mm3ctl macros
  mm3ctl macros F8 'QRZ? {mycall}' --label QRZ`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				if label != "" {
					return fmt.Errorf("--label needs a key")
				}
				return run(opts, cmd, protocol.CmdMacros)
			case 1:
				if label == "" {
					return fmt.Errorf("give a template or --label")
				}
			case 2:
				if err := run(opts, cmd, fmt.Sprintf("%s:%s %s", protocol.CmdSetMacro, args[0], args[1])); err != nil {
					return err
				}
			}
			if label != "" {
				return run(opts, cmd, fmt.Sprintf("%s:%s %s", protocol.CmdLabel, args[0], label))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "button label for the macro")
	return cmd
}

// NewLogCommand creates the log command.
func NewLogCommand(opts *RootOptions) *cobra.Command {
	var sent, received string

	cmd := &cobra.Command{
		Use:   "log <callsign> <exchange>",
		Short: "Log a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := opts.client().LogQSO(qsolog.Fields{
				Callsign:         args[0],
				RSTSent:          sent,
				RSTReceived:      received,
				ExchangeReceived: args[1],
			})
			if err != nil {
				return commandFailed(err)
			}
			if opts.Format == "json" {
				return printResponse(cmd.OutOrStdout(), opts.Format, protocol.NewSuccessResponse(map[string]interface{}{"qso": entry}))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged #%d %s %s %s %s\n",
				entry.Serial, entry.Callsign, entry.RSTReceived, entry.ExchangeReceived, entry.Frequency)
			return nil
		},
	}

	cmd.Flags().StringVar(&sent, "snt", "", "report sent (default 599)")
	cmd.Flags().StringVar(&received, "rcv", "", "report received (default 599)")
	return cmd
}

// NewQSOsCommand creates the qsos command.
func NewQSOsCommand(opts *RootOptions) *cobra.Command {
	var call string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "qsos",
		Short: "List logged contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := make(map[string]string)
			if call != "" {
				filters["call"] = call
			}
			if limit > 0 {
				filters["limit"] = strconv.Itoa(limit)
			}
			if offset > 0 {
				filters["offset"] = strconv.Itoa(offset)
			}
			if opts.Format == "json" {
				line := protocol.CmdQSOs
				if len(filters) > 0 {
					line += ":" + protocol.FormatPairs(filters)
				}
				return run(opts, cmd, line)
			}
			entries, err := opts.client().QueryQSOs(filters)
			if err != nil {
				return commandFailed(err)
			}
			w := cmd.OutOrStdout()
			for i, e := range entries {
				fmt.Fprintf(w, "%3d  %4d  %s  %-10s %-4s %-4s %-6s %s\n", i+1, e.Serial,
					e.Timestamp.Format("2006-01-02 15:04"), e.Callsign, e.RSTSent, e.RSTReceived,
					e.ExchangeReceived, e.Frequency)
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, "No QSOs")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&call, "call", "", "only contacts with this callsign")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum contacts to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "contacts to skip")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <position>",
		Short: "Delete the contact at a log position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid position %q", args[0])
			}
			return run(opts, cmd, protocol.CmdDelete+":"+args[0])
		},
	}
}

// NewSpeedCommand creates the speed command.
func NewSpeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speed <wpm|up|down>",
		Short: "Set the keyer speed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd, protocol.CmdSpeed+":"+strings.ToUpper(args[0]))
		},
	}
}

// NewTuneCommand creates the tune command.
func NewTuneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tune [on|off]",
		Short: "Key a tuning carrier, or toggle it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := protocol.CmdTune
			if len(args) == 1 {
				line += ":" + strings.ToUpper(args[0])
			}
			return run(opts, cmd, line)
		},
	}
}

// NewRepeatCommand creates the repeat command.
func NewRepeatCommand(opts *RootOptions) *cobra.Command {
	var interval string

	cmd := &cobra.Command{
		Use:   "repeat <on|off|cancel>",
		Short: "Control repeating CQ on F1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval != "" {
				if err := run(opts, cmd, protocol.CmdInterval+":"+interval); err != nil {
					return err
				}
			}
			switch strings.ToLower(args[0]) {
			case "cancel":
				return run(opts, cmd, protocol.CmdCancel)
			case "on", "off":
				return run(opts, cmd, protocol.CmdRepeat+":"+strings.ToUpper(args[0]))
			}
			return fmt.Errorf("expected on, off or cancel, got %q", args[0])
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "seconds between calls")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <adif|cabrillo> <path>",
		Short: "Export the log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd, fmt.Sprintf("%s:%s %s", protocol.CmdExport, args[0], args[1]))
		},
	}
}

// NewRawCommand creates the raw command.
func NewRawCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <command>",
		Short: "Send a control command as typed",
		Long: `Send a control command line as typed, e.g.

  mm3ctl raw 'ENTRY:call W1AW'
  mm3ctl raw 'CONTEST:name=CQ WW;serial=on'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd, strings.Join(args, " "))
		},
	}
}
