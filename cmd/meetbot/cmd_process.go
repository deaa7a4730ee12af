package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/report"
	"github.com/user/meetbot/internal/state"
	"github.com/user/meetbot/internal/telegram"
	"github.com/user/meetbot/internal/types"
)

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().Bool("keep-audio", false, "keep the recording after transcription")
}

var processCmd = &cobra.Command{
	Use:   "process <meeting url> [lead id]",
	Short: "Join, record and analyze one meeting in the foreground",
	Long: `Runs a single meeting job without the daemon. The first interrupt stops
the recording and continues with transcription and analysis; a second
interrupt aborts the job.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if keep, _ := cmd.Flags().GetBool("keep-audio"); keep {
			cfg.KeepArtifacts = true
		}

		req := types.MeetingRequest{
			URL:         platform.Normalize(args[0]),
			RequestedAt: time.Now(),
			Source:      "cli",
		}
		if len(args) > 1 {
			req.CorrelationID = args[1]
		}
		if _, err := platform.Classify(req.URL); err != nil {
			return err
		}

		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		if cfg.Telegram.Token != "" {
			// send-only: commands are not polled in one-shot mode
			bot, err := telegram.New(cfg.Telegram.Token, nil, slog.Default())
			if err != nil {
				slog.Warn("telegram unavailable, reports go to stdout only", "error", err)
			} else {
				a.delivery.Register("telegram", bot.Deliver)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stop := make(chan struct{})

		sigChan := make(chan os.Signal, 2)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			<-sigChan
			slog.Info("interrupt: stopping recording, press again to abort")
			close(stop)
			<-sigChan
			slog.Warn("interrupt: aborting job")
			cancel()
		}()

		res, runErr := a.pipeline.Run(ctx, req, pipeline.WithStopSignal(stop))

		if err := os.MkdirAll(cfg.DataDir, 0o755); err == nil {
			journal := state.NewJobJournal(cfg.DataDir)
			if jerr := journal.Append(context.WithoutCancel(ctx), res.Record()); jerr != nil {
				slog.Warn("journal append failed", "error", jerr)
			}
		}

		if runErr != nil {
			fmt.Fprintln(os.Stdout, report.FormatFailure(req.URL, req.CorrelationID, string(res.FailedStage()), runErr))
			return fmt.Errorf("job %s failed", res.JobID)
		}
		fmt.Fprintln(os.Stdout, report.Format(report.Meeting{
			URL:        req.URL,
			LeadID:     req.CorrelationID,
			Platform:   string(res.Platform),
			Transcript: res.Transcript,
			Result:     res.Analysis,
			Warnings:   res.Warnings,
		}))
		return nil
	},
}
