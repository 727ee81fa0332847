package statctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/statforge/statstream/internal/apiclient"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/realtime"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect asynchronous jobs",
}

var jobsLimit int

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		query := url.Values{}
		if jobsLimit > 0 {
			query.Set("limit", fmt.Sprintf("%d", jobsLimit))
		}
		path := "/jobs"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}
		var resp struct {
			Jobs []Job `json:"jobs"`
		}
		if err := client.GetJSON(cmd.Context(), path, &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Jobs)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tUPDATED\n")
		for _, job := range resp.Jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n",
				shortID(job.ID),
				job.Type,
				job.Status,
				job.Progress,
				relativeTime(job.UpdatedAt))
		}
		flushTable(tw)
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Describe a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		job, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(job)
			return
		}
		printJobDetails(cmd, job)
	},
}

var (
	jobWatchTimeout       time.Duration
	jobWatchReconnectBase time.Duration
	jobWatchReconnects    int
)

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Stream job progress over the realtime channel until completion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cliCtx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cmd.Context()
		if jobWatchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, jobWatchTimeout)
			defer cancel()
		}
		if err := watchJob(ctx, cmd, client, cliCtx, args[0]); err != nil {
			exitWithError(cmd, err)
		}
	},
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to return")
	jobsWatchCmd.Flags().DurationVar(&jobWatchTimeout, "timeout", 0, "Stop watching after the specified duration (0 = wait forever)")
	jobsWatchCmd.Flags().DurationVar(&jobWatchReconnectBase, "reconnect-base", 2*time.Second, "Base delay between realtime reconnect attempts")
	jobsWatchCmd.Flags().IntVar(&jobWatchReconnects, "max-reconnects", 5, "Reconnect attempts before falling back to polling")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsWatchCmd)
}

func fetchJob(ctx context.Context, client *apiclient.Client, id string) (*Job, error) {
	var job Job
	if err := client.GetJSON(ctx, "/jobs/"+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func printJobDetails(cmd *cobra.Command, job *Job) {
	tw := newTable()
	fmt.Fprintf(tw, "Field\tValue\n")
	fmt.Fprintf(tw, "ID\t%s\n", job.ID)
	fmt.Fprintf(tw, "Type\t%s\n", job.Type)
	fmt.Fprintf(tw, "Status\t%s\n", job.Status)
	fmt.Fprintf(tw, "Stage\t%s\n", job.Stage)
	fmt.Fprintf(tw, "Progress\t%d%%\n", job.Progress)
	fmt.Fprintf(tw, "Message\t%s\n", job.Message)
	fmt.Fprintf(tw, "Updated\t%s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", job.Error)
	}
	flushTable(tw)
	if len(job.Payload) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nPayload:")
		_ = printJSON(job.Payload)
	}
	if len(job.Result) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nResult:")
		_ = printJSON(job.Result)
	}
}

// wsEndpoint derives the websocket URL from the gateway base URL.
func wsEndpoint(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return strings.TrimRight(server, "/") + "/ws"
}

func watchJob(ctx context.Context, cmd *cobra.Command, client *apiclient.Client, cliCtx *Context, jobID string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Watching job %s...\n", jobID)

	finished := make(chan struct{})
	rt := realtime.NewClient(realtime.ClientOptions{
		URL:           wsEndpoint(cliCtx.Server),
		UserID:        cliCtx.UserID,
		Rooms:         []string{"jobs"},
		Token:         cliCtx.Token,
		ReconnectBase: jobWatchReconnectBase,
		MaxReconnects: jobWatchReconnects,
		OnEnvelope: func(env events.Envelope) {
			if !events.IsJobEvent(env.Event) {
				return
			}
			var update events.JobUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				printErrorLine("event decode error: %v", err)
				return
			}
			if update.JobID != jobID {
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-10s %3d%% %s\n", env.Event, update.Stage, update.Progress, update.Message)
			if events.IsTerminalJobEvent(env.Event) {
				if update.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Job error: %s\n", update.Error)
				}
				select {
				case <-finished:
				default:
					close(finished)
				}
			}
		},
	})
	if err := rt.Connect(ctx); err != nil {
		printErrorLine("realtime channel unavailable, polling instead: %v", err)
	} else {
		defer rt.Disconnect()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	finishedCh := finished
	doneCh := rt.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-finishedCh:
			finishedCh = nil
		case <-doneCh:
			doneCh = nil
		case <-ticker.C:
		}

		job, err := fetchJob(ctx, client, jobID)
		if err != nil {
			return err
		}
		if job.Status == "completed" || job.Status == "failed" {
			fmt.Fprintf(cmd.OutOrStdout(), "Final status: %s (%d%%) - %s\n", job.Status, job.Progress, job.Message)
			if job.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Error: %s\n", job.Error)
			}
			return nil
		}
	}
}
