package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/cli/internal/output"
	"github.com/getmockd/mockctl/pkg/engine"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec"},
	Short:   "Inspect and export recorded requests",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		list, err := newClient().Recordings(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(w, list)
		}
		if list.Count == 0 {
			fmt.Fprintln(w, "No recordings")
			return nil
		}
		tw := output.Table(w)
		fmt.Fprintln(tw, "ID\tTIME\tMETHOD\tPATH\tSTATUS\tDURATION")
		for _, r := range list.Recordings {
			path := r.Request.Path
			if r.Request.Query != "" {
				path += "?" + r.Request.Query
			}
			status := "-"
			if r.Response.StatusCode != 0 {
				status = fmt.Sprint(r.Response.StatusCode)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Timestamp.Format("15:04:05"), r.Request.Method, path, status, r.Duration)
		}
		return tw.Flush()
	},
}

var recordingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := newClient().ClearRecordings(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]int{"cleared": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d recording(s)\n", n)
		return nil
	},
}

var exportFlags struct {
	format     string
	output     string
	fallback   string
	all        bool
	matchQuery bool
}

var recordingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recordings as an engine configuration",
	Long: `Export recordings as an engine configuration that replays them.

The result can be fed back with 'mockctl set engine on --descriptor
file://<output>'.`,
	Example: `  mockctl recordings export --format yaml --output mocks.yaml
  mockctl recordings export --fallback https://api.example.com --match-query`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := engine.ParseFormat(exportFlags.format)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		data, err := newClient().ExportRecordings(ctx, format, engine.ExportOptions{
			FallbackBaseURL: exportFlags.fallback,
			Deduplicate:     !exportFlags.all,
			MatchQuery:      exportFlags.matchQuery,
		})
		if err != nil {
			return err
		}

		if exportFlags.output == "" || exportFlags.output == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportFlags.output, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", exportFlags.output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordingsCmd)
	recordingsCmd.AddCommand(recordingsListCmd, recordingsClearCmd, recordingsExportCmd)

	f := recordingsExportCmd.Flags()
	f.StringVarP(&exportFlags.format, "format", "f", "yaml", "Output format (json, yaml)")
	f.StringVarP(&exportFlags.output, "output", "o", "", "Write to this file instead of stdout")
	f.StringVar(&exportFlags.fallback, "fallback", "", "Fallback base URL carried into the configuration")
	f.BoolVar(&exportFlags.all, "all", false, "Keep duplicate requests")
	f.BoolVar(&exportFlags.matchQuery, "match-query", false, "Match recorded query parameters")
}
