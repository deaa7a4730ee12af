package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/scheduler"
	"github.com/user/meetbot/internal/state"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleEnableCmd, scheduleDisableCmd)

	f := scheduleAddCmd.Flags()
	f.String("url", "", "meeting link (required)")
	f.String("lead", "", "CRM lead id")
	f.String("schedule", "", "cron expression, seconds optional (empty for webhook-only)")
	f.String("reply-to", "", "extra report channel, e.g. telegram:12345")
	_ = scheduleAddCmd.MarkFlagRequired("url")
}

func meetingStore() (*state.MeetingStore, string) {
	cfg := loadConfig()
	return state.NewMeetingStore(filepath.Join(cfg.DataDir, "meetings.json")), cfg.DataDir
}

// reloadDaemon asks a running daemon to pick up schedule changes. A missing
// daemon is not an error; it reads the file on start.
func reloadDaemon(dataDir string) {
	if _, err := signalDaemon(dataDir, syscall.SIGUSR1); err != nil && !errors.Is(err, errNoDaemon) {
		slog.Warn("could not notify daemon", "error", err)
	}
}

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"meetings"},
	Short:   "Manage recurring and webhook-triggered meetings",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a named meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		link, _ := f.GetString("url")
		lead, _ := f.GetString("lead")
		expr, _ := f.GetString("schedule")
		replyTo, _ := f.GetString("reply-to")

		link = platform.Normalize(link)
		if _, err := platform.Classify(link); err != nil {
			return err
		}
		if expr != "" {
			if err := scheduler.Validate(expr); err != nil {
				return err
			}
		}

		store, dataDir := meetingStore()
		m := &state.Meeting{
			Name:          args[0],
			MeetingURL:    link,
			CorrelationID: lead,
			Schedule:      expr,
			ReplyTo:       replyTo,
			Enabled:       true,
		}
		if err := store.Add(m); err != nil {
			return err
		}
		reloadDaemon(dataDir)
		fmt.Fprintf(os.Stdout, "Added meeting %q.\n", m.Name)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered meetings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _ := meetingStore()
		meetings, err := store.List()
		if err != nil {
			return err
		}
		if len(meetings) == 0 {
			fmt.Fprintln(os.Stdout, "No meetings registered.")
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(meetings))
		for _, m := range meetings {
			rows = append(rows, []string{
				m.Name, m.MeetingURL, orDash(m.CorrelationID), orDash(m.Schedule),
				nextRun(m, now), enabledLabel(m.Enabled), orDash(m.ReplyTo),
			})
		}
		fmt.Fprintln(os.Stdout, renderTable(
			[]string{"Name", "URL", "Lead", "Schedule", "Next run", "Enabled", "Reply to"},
			rows, nil,
		))
		return nil
	},
}

func nextRun(m *state.Meeting, now time.Time) string {
	if m.Schedule == "" || !m.Enabled {
		return "-"
	}
	next, err := scheduler.Next(m.Schedule, now)
	if err != nil {
		return "invalid"
	}
	return next.Local().Format("2006-01-02 15:04:05")
}

func enabledLabel(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a registered meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, dataDir := meetingStore()
		if err := store.Remove(args[0]); err != nil {
			return err
		}
		reloadDaemon(dataDir)
		fmt.Fprintf(os.Stdout, "Removed meeting %q.\n", args[0])
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a registered meeting",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(true),
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a registered meeting without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(false),
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, dataDir := meetingStore()
		if err := store.SetEnabled(args[0], enabled); err != nil {
			return err
		}
		reloadDaemon(dataDir)
		fmt.Fprintf(os.Stdout, "Meeting %q enabled: %s.\n", args[0], enabledLabel(enabled))
		return nil
	}
}
