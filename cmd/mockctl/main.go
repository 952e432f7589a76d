// Command mockctl runs and controls the mock engine daemon.
package main

import "github.com/getmockd/mockctl/pkg/cli"

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.BuildDate = date
	cli.Execute()
}
