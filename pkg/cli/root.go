package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/admin"
)

// EnvAdminURL overrides the default --admin-url.
const EnvAdminURL = "MOCKCTL_ADMIN_URL"

var (
	// Persistent flags available to all subcommands
	adminURL   string
	jsonOutput bool
	timeout    time.Duration

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mockctl",
	Short: "mockctl controls an embedded mock HTTP engine",
	Long: `mockctl turns a mock HTTP engine on and off, feeds it a configuration
located by a descriptor (asset://, file://, http(s):// or inline content),
and toggles recording of requests the configuration does not answer.

Run 'mockctl serve' to start the daemon; the other commands talk to it
through its admin API.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultAdminURL() string {
	if v := os.Getenv(EnvAdminURL); v != "" {
		return v
	}
	return "http://" + admin.DefaultAddress
}

func newClient() *admin.Client {
	return admin.NewClient(adminURL, admin.WithTimeout(timeout))
}

// commandContext bounds a one-shot request to the daemon.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", defaultAdminURL(), "Admin API base URL (env "+EnvAdminURL+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for requests to the daemon")
}
