package statctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Validate and run export transforms",
}

var (
	exportSpecFile string
	exportOutFile  string
)

func readSpecFile(cmd *cobra.Command) ([]byte, error) {
	if exportSpecFile == "" {
		return nil, fmt.Errorf("--spec is required")
	}
	return os.ReadFile(exportSpecFile)
}

var exportValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a transform spec without running it",
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readSpecFile(cmd)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp map[string]interface{}
		if err := client.PostJSON(cmd.Context(), "/api/export-transform/validate", jsonRaw(raw), &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Spec is valid")
		if jsonOutput() {
			_ = printJSON(resp)
		}
	},
}

var exportRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an export transform job",
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readSpecFile(cmd)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp struct {
			Job Job `json:"job"`
		}
		if err := client.PostJSON(cmd.Context(), "/api/export-transform/run", jsonRaw(raw), &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Job)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Export job %s started (fetch with 'statctl export result %s')\n",
			shortID(resp.Job.ID), resp.Job.ID)
	},
}

var exportResultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Download the artifact produced by a finished export job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		out := cmd.OutOrStdout()
		if exportOutFile != "" {
			f, err := os.Create(exportOutFile)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			defer f.Close()
			out = f
		}
		contentType, err := client.Download(cmd.Context(), "/api/export-transform/"+args[0]+"/result", out)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if exportOutFile != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", exportOutFile, contentType)
		}
	},
}

// jsonRaw wraps pre-encoded JSON so PostJSON forwards it untouched.
type jsonRaw []byte

func (r jsonRaw) MarshalJSON() ([]byte, error) {
	return r, nil
}

func init() {
	exportValidateCmd.Flags().StringVar(&exportSpecFile, "spec", "", "Path to the transform spec JSON file")
	exportRunCmd.Flags().StringVar(&exportSpecFile, "spec", "", "Path to the transform spec JSON file")
	exportResultCmd.Flags().StringVarP(&exportOutFile, "out", "f", "", "Write the artifact to a file instead of stdout")
	exportCmd.AddCommand(exportValidateCmd)
	exportCmd.AddCommand(exportRunCmd)
	exportCmd.AddCommand(exportResultCmd)
}
