package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/willibrandon/devicealarm/internal/agent"
)

var (
	goodFormat    = color.New(color.FgGreen).SprintFunc()
	warningFormat = color.New(color.FgHiYellow).SprintFunc()
	errorFormat   = color.New(color.FgHiRed).SprintFunc()
	mutedFormat   = color.New(color.FgHiBlack).SprintFunc()
)

// requireSudo exits when a system service needs elevated privileges.
func requireSudo(command string) {
	if agent.RequiresSudo() {
		fmt.Fprintf(os.Stderr, "Error: system service installed, requires sudo\n")
		fmt.Fprintf(os.Stderr, "Run: sudo alarm-agent %s\n", command)
		os.Exit(agent.ExitPermissionDenied)
	}
}

func exitPermission(err error) {
	var permErr *agent.PermissionError
	if errors.As(err, &permErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
		os.Exit(agent.ExitPermissionDenied)
	}
}

func newInstallCmd() *cobra.Command {
	var userMode bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install alarm-agent as a system service",
		Long: `Install alarm-agent as a system service that starts on boot.

Use --user to install as a user service (no elevated privileges required).
System service installation requires administrator/root privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := agent.Install(agent.ServiceConfig{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			})
			if err != nil {
				exitPermission(err)
				if errors.Is(err, agent.ErrServiceInstalled) {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					fmt.Fprintf(os.Stderr, "Use 'alarm-agent uninstall' first to reinstall\n")
					os.Exit(agent.ExitServiceExists)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(agent.ExitConfigError)
			}

			fmt.Println("alarm-agent installed successfully")
			if userMode {
				fmt.Println("Installed as user service")
			} else {
				fmt.Println("Installed as system service")
			}
			fmt.Println("\nTo start the service:")
			fmt.Println("  alarm-agent start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the alarm-agent service",
		Long:  `Remove the alarm-agent service. The service is stopped first if running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requireSudo("uninstall")
			if err := agent.Uninstall(); err != nil {
				exitPermission(err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				if errors.Is(err, agent.ErrServiceNotInstalled) {
					os.Exit(agent.ExitServiceNotFound)
				}
				os.Exit(1)
			}
			fmt.Println("alarm-agent uninstalled successfully")
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireSudo("start")
			if err := agent.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				switch {
				case errors.Is(err, agent.ErrServiceNotInstalled):
					fmt.Fprintf(os.Stderr, "Use 'alarm-agent install' first\n")
					os.Exit(agent.ExitServiceNotFound)
				case errors.Is(err, agent.ErrServiceRunning):
					os.Exit(agent.ExitAlreadyRunning)
				}
				os.Exit(agent.ExitStartFailed)
			}
			fmt.Println("alarm-agent started")
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireSudo("stop")
			if err := agent.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				switch {
				case errors.Is(err, agent.ErrServiceNotInstalled):
					os.Exit(agent.ExitServiceNotFound)
				case errors.Is(err, agent.ErrServiceNotRunning):
					os.Exit(agent.ExitNotRunning)
				}
				os.Exit(agent.ExitStopFailed)
			}
			fmt.Println("alarm-agent stopped")
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			requireSudo("restart")
			if err := agent.Restart(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				if errors.Is(err, agent.ErrServiceNotInstalled) {
					fmt.Fprintf(os.Stderr, "Use 'alarm-agent install' first\n")
					os.Exit(agent.ExitServiceNotFound)
				}
				os.Exit(agent.ExitRestartFailed)
			}
			fmt.Println("alarm-agent restarted")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status and health",
		Long: `Show service status including:
  - Service state (running/stopped/not installed)
  - Process ID and uptime
  - Last evaluation cycle and average cycle time
  - Open alarm count
  - Recent errors`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent.LoadConfig(configPath)
			if err != nil {
				cfg = nil
			}

			status, err := agent.GetStatus(cmd.Context(), cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
					os.Exit(1)
				}
			} else {
				printHumanStatus(status)
			}

			switch status.State {
			case "not_installed":
				os.Exit(agent.ExitServiceNotFound)
			case "stopped":
				os.Exit(agent.ExitStopped)
			case "running":
				if !status.Healthy || len(status.Errors) > 0 {
					os.Exit(agent.ExitUnhealthy)
				}
				os.Exit(agent.ExitSuccess)
			default:
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func printHumanStatus(status *agent.Status) {
	state := status.State
	switch state {
	case "running":
		state = goodFormat(state)
		if status.Foreground {
			state += mutedFormat(" (foreground)")
		}
	case "stopped":
		state = warningFormat(state)
	default:
		state = errorFormat(state)
	}
	fmt.Printf("alarm-agent status: %s\n", state)

	switch status.State {
	case "not_installed":
		fmt.Println("\nTo install the service:")
		fmt.Println("  alarm-agent install")
		return
	case "stopped":
		fmt.Println("\nTo start the service:")
		fmt.Println("  alarm-agent start")
		return
	}

	if status.PID > 0 {
		fmt.Printf("  PID:          %d\n", status.PID)
	}
	if status.Uptime != "" {
		fmt.Printf("  Uptime:       %s\n", status.Uptime)
	}
	if status.LastCycle != "" {
		fmt.Printf("  Last Cycle:   %s\n", status.LastCycle)
	}
	if status.Cycles > 0 {
		fmt.Printf("  Cycles:       %d (avg %.1f ms)\n", status.Cycles, status.AvgCycleMs)
	}
	fmt.Printf("  Open Alarms:  %d\n", status.Active)
	if status.Version != "" {
		fmt.Printf("  Version:      %s\n", status.Version)
	}

	if len(status.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range status.Errors {
			fmt.Printf("  - %s\n", errorFormat(e))
		}
	} else {
		fmt.Println("\nErrors: none")
	}
}
