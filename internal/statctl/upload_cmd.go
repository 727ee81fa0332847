package statctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var uploadName string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a dataset and start the ingest job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fields := map[string]string{}
		if uploadName != "" {
			fields["name"] = uploadName
		}
		var resp struct {
			Job  Job    `json:"job"`
			File string `json:"file"`
		}
		if err := client.UploadFile(cmd.Context(), "/upload/", args[0], fields, &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s\n", args[0], resp.File)
		fmt.Fprintf(cmd.OutOrStdout(), "Ingest job %s started (watch with 'statctl jobs watch %s')\n",
			shortID(resp.Job.ID), resp.Job.ID)
	},
}

// Job mirrors the gateway job payload.
type Job struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    string                 `json:"status"`
	Stage     string                 `json:"stage"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

func init() {
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "Display name for the dataset")
}
