package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/admin"
	"github.com/getmockd/mockctl/pkg/cli/internal/output"
	"github.com/getmockd/mockctl/pkg/lifecycle"
)

var statusPIDFile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's engine and recording state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		st, err := newClient().Status(ctx)
		if err == nil {
			return printStatus(cmd.OutOrStdout(), st)
		}
		if !errors.Is(err, admin.ErrUnavailable) {
			return err
		}

		// Unreachable: say what the PID file knows.
		w := cmd.OutOrStdout()
		info, perr := lifecycle.ReadPIDFile(statusPIDFile)
		switch {
		case perr != nil && errors.Is(perr, os.ErrNotExist):
			fmt.Fprintf(w, "mockctl daemon is not running (no daemon at %s)\n", adminURL)
		case perr != nil:
			output.Warn(cmd.ErrOrStderr(), "%v", perr)
			fmt.Fprintf(w, "mockctl daemon is not reachable at %s\n", adminURL)
		case !info.IsRunning():
			fmt.Fprintf(w, "mockctl daemon is not running (stale PID file for %d)\n", info.PID)
		default:
			fmt.Fprintf(w, "mockctl daemon %d is running (up %s) but not reachable at %s\n", info.PID, info.FormatUptime(), adminURL)
			if u := info.AdminURL(); u != "" && u != adminURL {
				fmt.Fprintf(w, "It reports its admin API at %s; try --admin-url %s\n", u, u)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusPIDFile, "pid-file", lifecycle.DefaultPIDPath(), "PID file consulted when the daemon is unreachable")
}
