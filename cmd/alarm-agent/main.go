package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/devicealarm/internal/agent"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Global flags
	configPath string
	debug      bool
)

func main() {
	agent.Version = version

	rootCmd := &cobra.Command{
		Use:   "alarm-agent",
		Short: "Device alarm rule evaluation agent",
		Long: `alarm-agent evaluates rule expressions against device parameter values
and maintains the lifecycle of the alarms they raise.

Service Management:
  alarm-agent install [--user]   Install as system/user service
  alarm-agent uninstall          Remove the service
  alarm-agent start              Start the installed service
  alarm-agent stop               Stop the running service
  alarm-agent restart            Restart the service
  alarm-agent status [--json]    Show service status

Direct Run:
  alarm-agent run [--once]       Run in the foreground
  alarm-agent refresh            Recompile rules in the running agent

Catalog and Alarms:
  alarm-agent import <aspect>    Import a device aspect file
  alarm-agent extract <expr>     List the parameter names an expression uses
  alarm-agent alarms [--all]     List alarms
  alarm-agent ack <alarm-id>     Acknowledge an alarm`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/devicealarm/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newRefreshCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newImportCmd(),
		newExtractCmd(),
		newAlarmsCmd(),
		newAckCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
