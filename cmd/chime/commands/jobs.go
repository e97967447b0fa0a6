package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/attuneai/chime/schedule"
)

// JobsCmd manages jobs on a running daemon over its HTTP API
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs on a running daemon",
	Long: `Manage jobs through a running chime daemon.

Examples:
  chime jobs submit --name backup --expr "0 2 * * *" --body 'log("hi")'
  chime jobs ls --status pending
  chime jobs approve job_abc123 --by alice
  chime jobs history job_abc123 --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		expr, _ := cmd.Flags().GetString("expr")
		scheduleText, _ := cmd.Flags().GetString("schedule")
		body, _ := cmd.Flags().GetString("body")
		bodyFile, _ := cmd.Flags().GetString("body-file")
		notifyTarget, _ := cmd.Flags().GetString("notify")
		timeout, _ := cmd.Flags().GetInt("timeout")
		network, _ := cmd.Flags().GetBool("allow-network")

		if body == "" && bodyFile != "" {
			raw, err := os.ReadFile(bodyFile)
			if err != nil {
				return fmt.Errorf("failed to read body file: %w", err)
			}
			body = string(raw)
		}

		req := map[string]interface{}{
			"name":          name,
			"expr":          expr,
			"schedule":      scheduleText,
			"body":          body,
			"notify_target": notifyTarget,
		}
		if timeout > 0 || network {
			limits := schedule.DefaultResourceLimits()
			if timeout > 0 {
				limits.TimeoutSeconds = timeout
			}
			limits.AllowNetwork = network
			req["limits"] = limits
		}

		var job schedule.Job
		if err := apiCall(cmd, http.MethodPost, "/jobs", req, &job); err != nil {
			return err
		}
		fmt.Printf("Submitted %s (%s), awaiting approval\n", job.ID, job.Name)
		return nil
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := "/jobs"
		if status != "" {
			path += "?status=" + status
		}

		var resp struct {
			Jobs []schedule.Job `json:"jobs"`
		}
		if err := apiCall(cmd, http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		if len(resp.Jobs) == 0 {
			fmt.Println("No jobs")
			return nil
		}
		for _, job := range resp.Jobs {
			last := "never"
			if job.LastRunAt != nil {
				last = job.LastRunAt.Local().Format(time.RFC3339)
			}
			fmt.Printf("%-26s %-8s %-14s %-20s last run: %s\n",
				job.ID, job.Status, job.Expr, job.Name, last)
			if job.LoadError != "" {
				fmt.Printf("%-26s load error: %s\n", "", job.LoadError)
			}
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job schedule.Job
		if err := apiCall(cmd, http.MethodGet, "/jobs/"+args[0], nil, &job); err != nil {
			return err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobsApproveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Approve a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("by")
		if approver == "" {
			return fmt.Errorf("--by is required")
		}

		var job schedule.Job
		err := apiCall(cmd, http.MethodPost, "/jobs/"+args[0]+"/approve",
			map[string]string{"approved_by": approver}, &job)
		if err != nil {
			return err
		}
		fmt.Printf("Approved %s, now %s\n", job.ID, job.Status)
		return nil
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause an active job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job schedule.Job
		if err := apiCall(cmd, http.MethodPost, "/jobs/"+args[0]+"/pause", nil, &job); err != nil {
			return err
		}
		fmt.Printf("Paused %s\n", job.ID)
		return nil
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job schedule.Job
		if err := apiCall(cmd, http.MethodPost, "/jobs/"+args[0]+"/resume", nil, &job); err != nil {
			return err
		}
		fmt.Printf("Resumed %s\n", job.ID)
		return nil
	},
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall(cmd, http.MethodDelete, "/jobs/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show a job's execution history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		var resp struct {
			Executions []schedule.ExecutionRecord `json:"executions"`
		}
		path := fmt.Sprintf("/jobs/%s/history?limit=%d", args[0], limit)
		if err := apiCall(cmd, http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		if len(resp.Executions) == 0 {
			fmt.Println("No executions recorded")
			return nil
		}
		for _, rec := range resp.Executions {
			fmt.Printf("%s  %-8s %6dms  %s\n",
				rec.StartedAt.Local().Format(time.RFC3339), rec.Outcome, rec.DurationMs, rec.ID)
			if rec.Error != "" {
				fmt.Printf("  error: %s\n", rec.Error)
			}
			for _, line := range rec.Output {
				fmt.Printf("  | %s\n", line)
			}
		}
		return nil
	},
}

// apiCall performs one request against the daemon API, decoding the
// response into out when non-nil.
func apiCall(cmd *cobra.Command, method, path string, body, out interface{}) error {
	addr, _ := cmd.Flags().GetString("addr")

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	url := strings.TrimRight(addr, "/") + "/api/v1" + path
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the daemon running at %s?): %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error           string `json:"error"`
			ClarifyQuestion string `json:"clarify_question"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.ClarifyQuestion != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.ClarifyQuestion)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	JobsCmd.PersistentFlags().String("addr", "http://localhost:8450", "Daemon API address")

	jobsSubmitCmd.Flags().String("name", "", "Job name (required)")
	jobsSubmitCmd.Flags().String("expr", "", "Five-field cron expression")
	jobsSubmitCmd.Flags().String("schedule", "", "Natural-language schedule, alternative to --expr")
	jobsSubmitCmd.Flags().String("body", "", "Script body")
	jobsSubmitCmd.Flags().String("body-file", "", "Read script body from file")
	jobsSubmitCmd.Flags().String("notify", "", "Notification target for this job")
	jobsSubmitCmd.Flags().Int("timeout", 0, "Execution timeout in seconds")
	jobsSubmitCmd.Flags().Bool("allow-network", false, "Allow the script to use fetch()")

	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, active, paused)")
	jobsApproveCmd.Flags().String("by", "", "Name of the approver (required)")
	jobsHistoryCmd.Flags().Int("limit", 20, "Maximum records to show")

	JobsCmd.AddCommand(jobsSubmitCmd)
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsApproveCmd)
	JobsCmd.AddCommand(jobsPauseCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
	JobsCmd.AddCommand(jobsRmCmd)
	JobsCmd.AddCommand(jobsHistoryCmd)
}
