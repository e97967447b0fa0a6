package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/attuneai/chime/cmd/chime/commands"
)

var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "chime - sandboxed recurring job scheduler",
	Long: `chime - a recurring job scheduler with sandboxed script bodies.

Jobs are defined by a five-field cron expression and a script body. New
jobs wait in pending status until approved, then run under resource
limits with durable execution history.

Available commands:
  serve  - Run the scheduler daemon and HTTP API
  jobs   - Manage jobs on a running daemon
  parse  - Turn natural-language text into a cron expression

Examples:
  chime serve                              # Start daemon in foreground
  chime jobs submit --name backup \
    --schedule "every day at 2am" \
    --body-file backup.tengo               # Submit a job for approval
  chime jobs approve job_abc123 --by alice # Activate a pending job
  chime parse "weekdays at 9am"            # Show the cron translation`,
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ParseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
