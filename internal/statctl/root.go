// Package statctl implements the statstream command line client.
package statctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/statforge/statstream/internal/apiclient"
	"github.com/statforge/statstream/internal/session"
)

var (
	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string

	appConfig *Config
)

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "statctl",
	Short: "Interact with the StatStream analytics platform",
	Long: `statctl is the command line client for the StatStream gateway.
Most commands require a configured context (see 'statctl config set-context')
and a login session (see 'statctl login').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "statctl config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the statctl config file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "server", "", "Override gateway URL")
	rootCmd.PersistentFlags().StringVar(&overrideToken, "token", "", "Override bearer token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(federationCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedContext merges config state with flag overrides and the saved
// session.
func resolvedContext() (*Context, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	ctxName := contextName
	if ctxName == "" {
		ctxName = appConfig.CurrentContext
	}
	ctx, ok := appConfig.Contexts[ctxName]
	if !ok {
		return nil, fmt.Errorf("context %q not found; use 'statctl config set-context'", ctxName)
	}
	if overrideURL != "" {
		ctx.Server = overrideURL
	}
	if overrideToken != "" {
		ctx.Token = overrideToken
	}
	if ctx.Token == "" {
		// Fall back to the token saved by 'statctl login'.
		if sess, err := session.Open(defaultSessionPath()); err == nil {
			if token, err := sess.Token(); err == nil {
				ctx.Token = token
			}
			if ctx.UserID == "" {
				if profile, err := sess.GetProfile(); err == nil && profile != nil {
					ctx.UserID = profile.UserID
				}
			}
			sess.Close()
		}
	}
	if ctx.Server == "" {
		return nil, fmt.Errorf("context %q is missing a server URL", ctxName)
	}
	return &ctx, nil
}

func mustClient() (*apiclient.Client, *Context, error) {
	ctx, err := resolvedContext()
	if err != nil {
		return nil, nil, err
	}
	client := &apiclient.Client{
		BaseURL: ctx.Server,
		Token:   ctx.Token,
		Timeout: 15 * time.Second,
	}
	return client, ctx, nil
}

func jsonOutput() bool {
	return strings.ToLower(outputFormat) == "json"
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
