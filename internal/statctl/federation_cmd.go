package statctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var federationCmd = &cobra.Command{
	Use:   "federation",
	Short: "Inspect the federation catalog and partners",
}

var fedCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List datasets shared with federation partners",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp struct {
			Datasets []struct {
				ID        string `json:"id"`
				Title     string `json:"title"`
				Owner     string `json:"owner"`
				Variables int    `json:"variables"`
			} `json:"datasets"`
		}
		if err := client.GetJSON(cmd.Context(), "/api/v1/federation/catalog", &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Datasets)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "ID\tTITLE\tOWNER\tVARIABLES\n")
		for _, ds := range resp.Datasets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", ds.ID, ds.Title, ds.Owner, ds.Variables)
		}
		flushTable(tw)
	},
}

var fedPartnersCmd = &cobra.Command{
	Use:   "partners",
	Short: "List registered federation partners",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var resp struct {
			Partners []struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				BaseURL string `json:"baseUrl"`
				Status  string `json:"status"`
			} `json:"partners"`
		}
		if err := client.GetJSON(cmd.Context(), "/api/v1/federation/partners", &resp); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(resp.Partners)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "ID\tNAME\tURL\tSTATUS\n")
		for _, p := range resp.Partners {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(p.ID), p.Name, p.BaseURL, p.Status)
		}
		flushTable(tw)
	},
}

var (
	partnerName    string
	partnerURL     string
	partnerContact string
)

var fedRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a federation partner",
	Run: func(cmd *cobra.Command, args []string) {
		if partnerName == "" || partnerURL == "" {
			exitWithError(cmd, fmt.Errorf("--name and --url are required"))
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var partner map[string]interface{}
		err = client.PostJSON(cmd.Context(), "/api/v1/federation/partners", map[string]string{
			"name":    partnerName,
			"baseUrl": partnerURL,
			"contact": partnerContact,
		}, &partner)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		_ = printJSON(partner)
	},
}

func init() {
	fedRegisterCmd.Flags().StringVar(&partnerName, "name", "", "Partner display name")
	fedRegisterCmd.Flags().StringVar(&partnerURL, "url", "", "Partner gateway base URL")
	fedRegisterCmd.Flags().StringVar(&partnerContact, "contact", "", "Partner contact address")
	federationCmd.AddCommand(fedCatalogCmd)
	federationCmd.AddCommand(fedPartnersCmd)
	federationCmd.AddCommand(fedRegisterCmd)
}
