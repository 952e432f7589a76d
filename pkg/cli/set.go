package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/cli/internal/output"
	"github.com/getmockd/mockctl/pkg/control"
)

var setDescriptor string

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one feature on the running daemon",
	Long: `Change one feature on the running daemon. The change is applied before
the command returns; the resulting status is printed.`,
	Example: `  mockctl set engine on --descriptor file:///etc/mockctl/mocks.yaml
  mockctl set engine off
  mockctl set record-missing on
  mockctl set record-missing-failures on`,
}

func newSetCmd(use, feature, short string, withDescriptor bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:       use + " on|off",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enable, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			c := control.Command{Feature: feature, Enable: control.Bool(enable)}
			if withDescriptor && cmd.Flags().Changed("descriptor") {
				c.Descriptor = control.String(setDescriptor)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			st, err := newClient().Execute(ctx, c)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	if withDescriptor {
		cmd.Flags().StringVarP(&setDescriptor, "descriptor", "d", "", "Engine configuration descriptor (defaults to the persisted one)")
	}
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes", "enable":
		return true, nil
	case "off", "false", "0", "no", "disable":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// printStatus renders st as a table, or JSON with --json.
func printStatus(w io.Writer, st *control.Status) error {
	if jsonOutput {
		return output.JSON(w, st)
	}
	tw := output.Table(w)
	fmt.Fprintf(tw, "Engine:\t%s (running: %s)\n", output.OnOff(st.EngineEnabled), output.OnOff(st.EngineRunning))
	descriptor := st.Descriptor
	if descriptor == "" {
		descriptor = "-"
	}
	fmt.Fprintf(tw, "Descriptor:\t%s\n", descriptor)
	fmt.Fprintf(tw, "Record missing:\t%s\n", output.OnOff(st.RecordMissing))
	fmt.Fprintf(tw, "Record failures:\t%s\n", output.OnOff(st.RecordMissingFailures))
	fmt.Fprintf(tw, "Recording:\t%s\n", output.OnOff(st.RecordingMissing))
	if st.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", st.LastError)
	}
	return tw.Flush()
}

func init() {
	setCmd.AddCommand(
		newSetCmd("engine", control.FeatureEngine, "Enable or disable the mock engine", true),
		newSetCmd("record-missing", control.FeatureRecordMissing, "Record requests the engine does not answer", false),
		newSetCmd("record-missing-failures", control.FeatureRecordMissingFailures, "Also record forwarded requests that failed", false),
	)
	rootCmd.AddCommand(setCmd)
}
