package cmd

import (
	"github.com/spf13/cobra"

	agentlog "github.com/memorypilot/watchagent/internal/log"
)

var (
	version     = "0.1.0"
	configJSON  string
	configFile  string
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "watchagent",
	Short: "Monitoring agents that report to a supervising process over stdio",
	Long: `watchagent runs as a child of a supervising process. It observes one
signal source, writes each new event to stdout as a single ".OUT" line, and
accepts ".CONFIG <json>" and ".QUIT" commands on stdin.

Logs go to stderr; stdout carries only protocol lines.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		agentlog.Init(agentlog.Config{
			Level:  agentlog.ResolveLevel(logLevel),
			Output: cmd.ErrOrStderr(),
		})
	},
}

func Execute() error {
	defer agentlog.Sync()
	if err := rootCmd.Execute(); err != nil {
		agentlog.Error("agent failed", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configJSON, "config", "c", "", "inline JSON config")
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $"+agentlog.EnvLevel+" or info)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(applicationCmd)
	rootCmd.AddCommand(apiCmd)
}
