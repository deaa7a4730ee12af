package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/state"
	"github.com/user/meetbot/internal/types"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().Int("limit", 20, "number of recent jobs to show (0 for all)")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show recently settled jobs from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")

		journal := state.NewJobJournal(cfg.DataDir)
		records, err := journal.Tail(context.Background(), limit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stdout, "No jobs recorded yet.")
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, jobRow(r))
		}
		fmt.Fprintln(os.Stdout, renderTable(
			[]string{"Seq", "Job", "Lead", "Platform", "Status", "Score", "Duration", "Started"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

func jobRow(r *types.JobRecord) []string {
	status := r.Status
	if r.Stage != "" {
		status += " @" + r.Stage
	}
	score := "-"
	if r.Analysis != nil {
		score = strconv.Itoa(r.Analysis.OverallScore)
	}
	return []string{
		strconv.FormatInt(r.Seq, 10),
		string(r.ID),
		orDash(r.Request.CorrelationID),
		orDash(r.Platform),
		status,
		score,
		r.EndedAt.Sub(r.StartedAt).Round(time.Second).String(),
		r.StartedAt.Local().Format("2006-01-02 15:04"),
	}
}
