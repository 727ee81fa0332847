package statctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var notificationsLimit int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show the notification feed",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp struct {
			Notifications []struct {
				ID        int64     `json:"id"`
				Event     string    `json:"event"`
				Title     string    `json:"title"`
				Severity  string    `json:"severity"`
				CreatedAt time.Time `json:"createdAt"`
			} `json:"notifications"`
		}
		path := fmt.Sprintf("/notifications?limit=%d", notificationsLimit)
		if err := client.GetJSON(cmd.Context(), path, &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Notifications)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "SEVERITY\tTITLE\tEVENT\tWHEN\n")
		for _, n := range resp.Notifications {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Severity, n.Title, n.Event, relativeTime(n.CreatedAt))
		}
		flushTable(tw)
	},
}

func init() {
	notificationsCmd.Flags().IntVar(&notificationsLimit, "limit", 50, "Maximum notifications to return")
}
