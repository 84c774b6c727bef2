package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "sociobot <agent>",
		Short: "Sociobot: Discord front end for AI agents",
		Long: "Sociobot connects one AI agent to Discord: it routes messages to the agent, " +
			"throttles agent-to-agent reply chains and catches up on messages missed while offline.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to config file (default $ZDS_AI_AGENT_CONFIG_FILE)")
	cmd.Flags().BoolVarP(&f.noMonitoring, "no-monitoring", "1", false, "process the backlog once and exit")
	cmd.Flags().BoolVar(&f.noAgent, "no-agent", false, "route messages but never invoke the agent")
	cmd.Flags().BoolVar(&f.noDiscord, "no-discord", false, "invoke the agent but never post to Discord")
	cmd.Flags().StringVar(&f.scope, "scope", "all", "backlog scope: comma-separated dms, botdms, text or all")
	cmd.Flags().BoolVar(&f.showBacklog, "show-backlog", false, "list pending backlog messages and exit")
	cmd.Flags().BoolVar(&f.clearBacklog, "clear-backlog", false, "mark all backlog messages as processed and exit")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log routing and ACL decisions")
	cmd.MarkFlagsMutuallyExclusive("show-backlog", "clear-backlog")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sociobot %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
