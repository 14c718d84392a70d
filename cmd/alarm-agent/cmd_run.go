package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/willibrandon/devicealarm/internal/agent"
	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/logger"
)

func newRunCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent in the foreground",
		Long: `Run the agent in the foreground until interrupted. Send SIGHUP (or use
"alarm-agent refresh") to recompile rules without restarting.

With --once, run a single evaluation cycle, print its report and exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runOnce(cmd.Context())
			}
			if !service.Interactive() {
				return agent.RunService(agent.ServiceConfig{ConfigPath: configPath, Debug: debug})
			}
			return runForeground()
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one evaluation cycle and exit")
	return cmd
}

func loadConfigOrExit() *config.Config {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	return cfg
}

// runForeground runs the agent until SIGINT or SIGTERM.
func runForeground() error {
	cfg := loadConfigOrExit()
	agent.InitLogging(cfg, debug, false)
	defer logger.Close()

	a, err := agent.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating agent: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}

	if err := a.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting agent: %v\n", err)
		if errors.Is(err, agent.ErrAgentRunning) {
			os.Exit(agent.ExitAlreadyRunning)
		}
		os.Exit(agent.ExitStartFailed)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

	return a.Stop()
}

func runOnce(ctx context.Context) error {
	cfg := loadConfigOrExit()
	agent.InitLogging(cfg, debug, false)
	defer logger.Close()

	a, err := agent.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating agent: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}

	report, err := a.RunOnce(ctx)

	fmt.Printf("Evaluated %d rule(s) over %d parameter(s) in %v\n",
		report.Evaluated, report.Parameters, report.Duration.Round(time.Millisecond))
	fmt.Printf("  Raised:   %d\n", report.Created)
	fmt.Printf("  Cleared:  %d\n", report.Cleared)
	fmt.Printf("  Active:   %d\n", report.Active)
	fmt.Printf("  Skipped:  %d (inhibited)\n", report.Skipped)
	fmt.Printf("  Failures: %d\n", report.Failures)

	if err != nil {
		return fmt.Errorf("cycle aborted: %w", err)
	}
	return nil
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompile rules in the running agent",
		Long:  `Send SIGHUP to the agent recorded in the PID file so it recompiles every rule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := agent.SignalRefresh(agent.DefaultPIDFilePath())
			if err != nil {
				if errors.Is(err, agent.ErrNoPIDFile) || errors.Is(err, agent.ErrStalePIDFile) {
					fmt.Fprintln(os.Stderr, "Error: agent not running")
					os.Exit(agent.ExitNotRunning)
				}
				return err
			}
			fmt.Printf("Rule refresh requested (PID %d)\n", pid)
			return nil
		},
	}
}
