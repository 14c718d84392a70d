package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/willibrandon/devicealarm/internal/agent"
	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/catalog"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/storage"
)

// initCLILogging sends log records from one-shot commands to stderr.
func initCLILogging() {
	level := logger.LevelWarn
	if debug {
		level = logger.LevelDebug
	}
	logger.InitWriter(os.Stderr, level)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <aspect.yaml>",
		Short: "Import a device aspect into the catalog",
		Long: `Import a diagnostic alarm aspect: the device, one parameter per distinct
parameter id and one rule per diagnostic resource. Existing entries are
updated in place. A running agent is asked to recompile its rules.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging()
			cfg := loadConfigOrExit()

			aspect, err := catalog.LoadAspect(args[0])
			if err != nil {
				return err
			}

			store, err := storage.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := catalog.Import(cmd.Context(), aspect, store)
			if err != nil {
				return err
			}

			fmt.Printf("Imported %s (%s)\n", report.Device.Name, report.Device.ID)
			fmt.Printf("  Parameters: %d\n", len(report.Parameters))
			fmt.Printf("  Rules:      %d\n", len(report.Rules))
			if len(report.Warnings) > 0 {
				fmt.Println("\nWarnings:")
				for _, w := range report.Warnings {
					fmt.Printf("  - %s\n", warningFormat(w))
				}
			}

			if pid, err := agent.SignalRefresh(agent.DefaultPIDFilePath()); err == nil {
				fmt.Printf("\nRule refresh requested (PID %d)\n", pid)
			}
			return nil
		},
	}
}

func newExtractCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "extract <expression>",
		Short: "List the parameter names a rule expression references",
		Long: `Print the parameter names referenced by a rule expression, one per line,
and report whether the expression compiles.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.Join(args, " ")
			names := alerts.ExtractParameterNames(expr)
			_, parseErr := alerts.ParseExpression(expr)

			if jsonOutput {
				out := struct {
					Expression string   `json:"expression"`
					Names      []string `json:"names"`
					Valid      bool     `json:"valid"`
					Error      string   `json:"error,omitempty"`
				}{Expression: expr, Names: names, Valid: parseErr == nil}
				if out.Names == nil {
					out.Names = []string{}
				}
				if parseErr != nil {
					out.Error = parseErr.Error()
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			for _, name := range names {
				fmt.Println(name)
			}
			if parseErr != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorFormat("invalid expression:"), parseErr)
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}
