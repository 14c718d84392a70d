package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/feed"
	"github.com/willibrandon/devicealarm/internal/models"
	"github.com/willibrandon/devicealarm/internal/storage"
)

func newAlarmsCmd() *cobra.Command {
	var (
		all        bool
		jsonOutput bool
		limit      int
		device     string
	)

	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "List alarms",
		Long: `List ACTIVE and ACK alarms, newest first. Use --all to include alarms
that returned to normal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging()
			cfg := loadConfigOrExit()

			filter := models.AlarmFilter{ActiveOnly: !all, Limit: limit}
			if device != "" {
				id, err := uuid.Parse(device)
				if err != nil {
					return fmt.Errorf("invalid device id %q: %w", device, err)
				}
				filter.DeviceID = id
			}

			store, err := storage.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			alarms, err := store.ListAlarms(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				if alarms == nil {
					alarms = []models.Alarm{}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(alarms)
			}

			printAlarms(alarms, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include alarms that returned to normal")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum alarms to list (0 for no limit)")
	cmd.Flags().StringVar(&device, "device", "", "only alarms of this device id")
	return cmd
}

func printAlarms(alarms []models.Alarm, now time.Time) {
	if len(alarms) == 0 {
		fmt.Println("No alarms")
		return
	}

	fmt.Printf("%-36s  %-7s  %-8s  %-10s  %-6s  %-14s  %s\n",
		"ID", "STATE", "SEVERITY", "VALUE", "OPEN", "RAISED", "MESSAGE")
	for _, a := range alarms {
		view := alerts.NewAlarmView(a, now)

		state := fmt.Sprintf("%-7s", view.State)
		switch view.State {
		case models.AlarmStateActive:
			state = errorFormat(state)
		case models.AlarmStateAck:
			state = warningFormat(state)
		default:
			state = mutedFormat(state)
		}

		severity := fmt.Sprintf("%-8s", view.Severity)
		if view.IsCritical() {
			severity = errorFormat(severity)
		}

		fmt.Printf("%-36s  %s  %s  %-10s  %-6s  %-14s  %s\n",
			view.ID,
			state,
			severity,
			strconv.FormatFloat(view.CurrentValue, 'g', 6, 64),
			view.DurationString(),
			view.Age(),
			view.Message)
	}

	fmt.Printf("\n%s alarm(s)\n", humanize.Comma(int64(len(alarms))))
}

func newAckCmd() *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   "ack <alarm-id>",
		Short: "Acknowledge an alarm",
		Long: `Acknowledge an alarm: ACTIVE becomes ACK and RTN becomes ACKRTN. When the
feed is enabled the acknowledgement is published to the alarm's Ack subject.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging()
			cfg := loadConfigOrExit()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid alarm id %q: %w", args[0], err)
			}
			if by == "" {
				by = currentUser()
			}

			store, err := storage.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			alarm, err := store.AcknowledgeAlarm(cmd.Context(), id, by, time.Now())
			switch {
			case errors.Is(err, alerts.ErrAlarmNotFound):
				fmt.Fprintf(os.Stderr, "Error: alarm %s not found\n", id)
				os.Exit(1)
			case errors.Is(err, alerts.ErrAlreadyAcknowledged):
				fmt.Fprintf(os.Stderr, "Error: alarm %s is already acknowledged\n", id)
				os.Exit(2)
			case err != nil:
				return err
			}

			fmt.Printf("Alarm %s acknowledged by %s (%s)\n", alarm.ID, by, goodFormat(alarm.State.String()))

			if cfg.Feed.Enabled && cfg.Feed.PublishAlarms {
				if err := publishAck(cfg.Feed, alarm); err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", warningFormat("warning: acknowledgement not published:"), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "operator name (default: current user)")
	return cmd
}

func publishAck(cfg config.FeedConfig, alarm *models.Alarm) error {
	conn, err := feed.Connect(cfg, "alarm-agent-ack")
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := feed.NewPublisher(conn, cfg.SolutionID, nil).PublishAck(alarm); err != nil {
		return err
	}
	return conn.Flush()
}

func currentUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "operator"
}
