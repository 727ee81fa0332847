package statctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run statistical analyses",
}

var (
	analyzeDataset string
	analyzeVars    []string
	crosstabRow    string
	crosstabCol    string
)

var analyzeDescriptiveCmd = &cobra.Command{
	Use:   "descriptive",
	Short: "Summary statistics for selected variables",
	Run: func(cmd *cobra.Command, args []string) {
		runAnalysis(cmd, "/api/analyze/descriptive", map[string]interface{}{
			"datasetId": analyzeDataset,
			"variables": analyzeVars,
		})
	},
}

var analyzeFrequencyCmd = &cobra.Command{
	Use:   "frequency",
	Short: "Frequency tables for selected variables",
	Run: func(cmd *cobra.Command, args []string) {
		runAnalysis(cmd, "/api/analyze/frequency", map[string]interface{}{
			"datasetId": analyzeDataset,
			"variables": analyzeVars,
		})
	},
}

var analyzeCrosstabCmd = &cobra.Command{
	Use:   "crosstab",
	Short: "Cross tabulation of two variables",
	Run: func(cmd *cobra.Command, args []string) {
		if crosstabRow == "" || crosstabCol == "" {
			exitWithError(cmd, fmt.Errorf("--row and --col are required"))
			return
		}
		runAnalysis(cmd, "/crosstab/", map[string]interface{}{
			"datasetId": analyzeDataset,
			"rowVar":    crosstabRow,
			"colVar":    crosstabCol,
		})
	},
}

func runAnalysis(cmd *cobra.Command, path string, payload map[string]interface{}) {
	if analyzeDataset == "" {
		exitWithError(cmd, fmt.Errorf("--dataset is required"))
		return
	}
	client, _, err := mustClient()
	if err != nil {
		exitWithError(cmd, err)
		return
	}
	var result map[string]interface{}
	if err := client.PostJSON(cmd.Context(), path, payload, &result); err != nil {
		exitWithError(cmd, err)
		return
	}
	_ = printJSON(result)
}

var mlModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List trained models",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp struct {
			Models []map[string]interface{} `json:"models"`
		}
		if err := client.GetJSON(cmd.Context(), "/api/ml/models", &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Models)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "ID\tALGORITHM\tTARGET\n")
		for _, m := range resp.Models {
			fmt.Fprintf(tw, "%v\t%v\t%v\n", m["id"], m["algorithm"], m["target"])
		}
		flushTable(tw)
	},
}

var (
	trainAlgorithm string
	trainTarget    string
)

var mlTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Start a model training job",
	Run: func(cmd *cobra.Command, args []string) {
		if analyzeDataset == "" || trainTarget == "" {
			exitWithError(cmd, fmt.Errorf("--dataset and --target are required"))
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		payload := map[string]interface{}{
			"datasetId": analyzeDataset,
			"target":    trainTarget,
			"algorithm": trainAlgorithm,
		}
		if len(analyzeVars) > 0 {
			payload["features"] = analyzeVars
		}
		var resp struct {
			Job Job `json:"job"`
		}
		if err := client.PostJSON(cmd.Context(), "/api/ml/train", payload, &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Job)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Training job %s started (watch with 'statctl jobs watch %s')\n",
			shortID(resp.Job.ID), resp.Job.ID)
	},
}

var mlCmd = &cobra.Command{
	Use:   "ml",
	Short: "Machine learning workflows",
}

func init() {
	for _, c := range []*cobra.Command{analyzeDescriptiveCmd, analyzeFrequencyCmd, analyzeCrosstabCmd, mlTrainCmd} {
		c.Flags().StringVar(&analyzeDataset, "dataset", "", "Dataset ID")
		c.Flags().StringSliceVar(&analyzeVars, "vars", nil, "Variables (comma separated)")
	}
	analyzeCrosstabCmd.Flags().StringVar(&crosstabRow, "row", "", "Row variable")
	analyzeCrosstabCmd.Flags().StringVar(&crosstabCol, "col", "", "Column variable")
	mlTrainCmd.Flags().StringVar(&trainTarget, "target", "", "Target variable")
	mlTrainCmd.Flags().StringVar(&trainAlgorithm, "algorithm", "random_forest", "Training algorithm")

	analyzeCmd.AddCommand(analyzeDescriptiveCmd)
	analyzeCmd.AddCommand(analyzeFrequencyCmd)
	analyzeCmd.AddCommand(analyzeCrosstabCmd)
	mlCmd.AddCommand(mlTrainCmd)
	mlCmd.AddCommand(mlModelsCmd)
	rootCmd.AddCommand(mlCmd)
}
