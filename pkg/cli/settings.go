package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/cli/internal/output"
	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/reconcile"
)

// ErrRolledBack is returned by settings when the engine did not start.
var ErrRolledBack = errors.New("engine setting rolled back")

var settingsFlags struct {
	engine         bool
	descriptor     string
	recordMissing  bool
	recordFailures bool
	noInput        bool
	async          bool
	settle         time.Duration
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Edit all settings at once",
	Long: `Edit the engine switch, descriptor and recording switches together.

Without flags an interactive form is shown, prefilled with the daemon's
persisted values. Any flag (or --no-input) skips the form and starts from
the persisted values instead.

The settings are applied in order (engine, record missing, record
failures); if the engine is not running afterwards the engine switch is
reported as rolled back and the command fails.`,
	Example: `  # Interactive
  mockctl settings

  # Scripted
  mockctl settings --engine --descriptor asset://mocks.yaml --record-missing

  # Let the daemon apply them and return immediately
  mockctl settings --engine=false --async`,
	RunE: runSettings,
}

func runSettings(cmd *cobra.Command, args []string) error {
	client := newClient()

	ctx, cancel := commandContext(cmd)
	st, err := client.Status(ctx)
	cancel()
	if err != nil {
		return err
	}
	d := desiredFrom(st)

	f := cmd.Flags()
	scripted := settingsFlags.noInput
	if f.Changed("engine") {
		d.Engine, scripted = settingsFlags.engine, true
	}
	if f.Changed("descriptor") {
		d.Descriptor, scripted = settingsFlags.descriptor, true
	}
	if f.Changed("record-missing") {
		d.RecordMissing, scripted = settingsFlags.recordMissing, true
	}
	if f.Changed("record-failures") {
		d.RecordMissingFailures, scripted = settingsFlags.recordFailures, true
	}
	if !scripted {
		if err := settingsForm(&d).Run(); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if settingsFlags.async {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := client.SubmitSettings(ctx, d); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(w, d)
		}
		fmt.Fprintln(w, "Settings accepted; watch 'mockctl events' for the outcome.")
		return nil
	}

	view := &settingsView{w: w}
	r := reconcile.New(client, view, reconcile.WithSettleDelay(settingsFlags.settle))
	if err := r.Submit(d); err != nil {
		return err
	}
	r.Wait()
	r.Close()

	if rb, ok := view.rolledBack(); ok {
		if jsonOutput {
			_ = output.JSON(w, rb)
		}
		return ErrRolledBack
	}

	ctx, cancel = commandContext(cmd)
	defer cancel()
	st, err = client.Status(ctx)
	if err != nil {
		return err
	}
	return printStatus(w, st)
}

// desiredFrom starts from what the daemon would restore.
func desiredFrom(st *control.Status) reconcile.Desired {
	return reconcile.Desired{
		Engine:                st.Persisted.Enable,
		Descriptor:            st.Persisted.Configuration,
		RecordMissing:         st.Persisted.Record,
		RecordMissingFailures: st.Persisted.RecordFailures,
	}
}

func settingsForm(d *reconcile.Desired) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the mock engine?").
				Value(&d.Engine),
			huh.NewInput().
				Title("Engine configuration").
				Description("asset://name, file:///path, http(s)://url or inline content").
				Placeholder("asset://mocks.yaml").
				Value(&d.Descriptor).
				Validate(func(s string) error {
					if d.Engine && s == "" {
						return errors.New("a configuration is required to enable the engine")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Record requests the engine does not answer?").
				Value(&d.RecordMissing),
			huh.NewConfirm().
				Title("Also record failed upstream requests?").
				Value(&d.RecordMissingFailures),
		),
	)
}

// settingsView prints reconciliation progress.
type settingsView struct {
	w io.Writer

	mu sync.Mutex
	rb *reconcile.Rollback
}

func (v *settingsView) Busy(busy bool) {
	if busy && !jsonOutput {
		v.mu.Lock()
		fmt.Fprintln(v.w, "Applying settings...")
		v.mu.Unlock()
	}
}

func (v *settingsView) Rollback(rb reconcile.Rollback) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rb = &rb
	if jsonOutput {
		return
	}
	fmt.Fprintln(v.w, rb.Message)
	if rb.Cause != "" {
		fmt.Fprintf(v.w, "Cause: %s\n", rb.Cause)
	}
}

func (v *settingsView) rolledBack() (reconcile.Rollback, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rb == nil {
		return reconcile.Rollback{}, false
	}
	return *v.rb, true
}

func init() {
	rootCmd.AddCommand(settingsCmd)

	f := settingsCmd.Flags()
	f.BoolVar(&settingsFlags.engine, "engine", false, "Enable the mock engine")
	f.StringVarP(&settingsFlags.descriptor, "descriptor", "d", "", "Engine configuration descriptor")
	f.BoolVar(&settingsFlags.recordMissing, "record-missing", false, "Record requests the engine does not answer")
	f.BoolVar(&settingsFlags.recordFailures, "record-failures", false, "Also record failed upstream requests")
	f.BoolVar(&settingsFlags.noInput, "no-input", false, "Never show the interactive form")
	f.BoolVar(&settingsFlags.async, "async", false, "Hand the settings to the daemon and return immediately")
	f.DurationVar(&settingsFlags.settle, "settle", reconcile.DefaultSettleDelay, "Wait before checking that the engine started")
}
