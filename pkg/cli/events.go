package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/admin"
	"github.com/getmockd/mockctl/pkg/cli/internal/output"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream status changes and rollbacks from the daemon",
	Long: `Stream status changes and rollbacks from the daemon until interrupted.
The current status is printed first. With --json each event is one line
of JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := newClient().Events(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		enc := json.NewEncoder(w)
		for ev := range events {
			if jsonOutput {
				if err := enc.Encode(ev); err != nil {
					return err
				}
				continue
			}
			printEvent(cmd, ev)
		}
		return nil
	},
}

func printEvent(cmd *cobra.Command, ev admin.Event) {
	w := cmd.OutOrStdout()
	ts := ev.Time.Format("15:04:05")
	switch {
	case ev.Type == admin.EventStatus && ev.Status != nil:
		st := ev.Status
		fmt.Fprintf(w, "%s status  engine=%s running=%s record=%s failures=%s",
			ts, output.OnOff(st.EngineEnabled), output.OnOff(st.EngineRunning),
			output.OnOff(st.RecordMissing), output.OnOff(st.RecordMissingFailures))
		if st.LastError != "" {
			fmt.Fprintf(w, " error=%q", st.LastError)
		}
		fmt.Fprintln(w)
	case ev.Type == admin.EventRollback && ev.Rollback != nil:
		fmt.Fprintf(w, "%s rollback %s", ts, ev.Rollback.Message)
		if ev.Rollback.Cause != "" {
			fmt.Fprintf(w, " (%s)", ev.Rollback.Cause)
		}
		fmt.Fprintln(w)
	default:
		output.Warn(cmd.ErrOrStderr(), "unknown event %q", ev.Type)
	}
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
