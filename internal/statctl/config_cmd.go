package statctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage statctl contexts",
}

var (
	setServer  string
	setToken   string
	setUserID  string
	setCurrent bool
)

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cfg.Contexts[args[0]]
		ctx.Name = args[0]
		if setServer != "" {
			ctx.Server = setServer
		}
		if setToken != "" {
			ctx.Token = setToken
		}
		if setUserID != "" {
			ctx.UserID = setUserID
		}
		setContext(cfg, ctx, setCurrent)
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Context %q saved\n", args[0])
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := ensureContextExists(cfg, args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		cfg.CurrentContext = args[0]
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q\n", args[0])
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the loaded configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			_ = printJSON(cfg)
			return
		}
		tw := newTable()
		fmt.Fprintf(tw, "NAME\tSERVER\tUSER\tCURRENT\n")
		for name, ctx := range cfg.Contexts {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, ctx.Server, ctx.UserID, current)
		}
		flushTable(tw)
	},
}

func init() {
	configSetContextCmd.Flags().StringVar(&setServer, "server", "", "Gateway base URL")
	configSetContextCmd.Flags().StringVar(&setToken, "token", "", "Bearer token")
	configSetContextCmd.Flags().StringVar(&setUserID, "user", "", "User ID for realtime subscriptions")
	configSetContextCmd.Flags().BoolVar(&setCurrent, "current", false, "Make this the current context")
	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configViewCmd)
}
