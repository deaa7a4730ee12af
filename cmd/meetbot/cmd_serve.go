package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/gateway"
	"github.com/user/meetbot/internal/metrics"
	"github.com/user/meetbot/internal/scheduler"
	"github.com/user/meetbot/internal/state"
	"github.com/user/meetbot/internal/telegram"
	"github.com/user/meetbot/internal/types"
	"github.com/user/meetbot/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the meetbot daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const pidFileName = "meetbot.pid"

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// One daemon per host: recordings share the audio device.
	lock := flock.New(filepath.Join(cfg.DataDir, "meetbot.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another meetbot daemon is running (lock %s)", lock.Path())
	}
	defer lock.Unlock()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := failedChecks(checkPrerequisites(ctx, cfg)); err != nil {
		slog.Warn("prerequisites missing, jobs will fail until fixed", "error", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	a, err := newApp(cfg, m)
	if err != nil {
		return err
	}

	journal := state.NewJobJournal(cfg.DataDir)
	gw := gateway.New(a.pipeline, journal, int64(cfg.MaxConcurrent),
		gateway.WithMetrics(m), gateway.WithLogger(slog.Default()))
	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("meetbot started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_session_seconds", cfg.MaxSessionSeconds,
		"llm_model", cfg.LLM.Model,
		"operator_channel", operatorChannel(cfg),
		"pid_file", pidPath,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, slog.Default())
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		a.delivery.Register("telegram", adapter.Deliver)
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	meetings := state.NewMeetingStore(filepath.Join(cfg.DataDir, "meetings.json"))
	sched := scheduler.New(meetings, func(mt state.Meeting) {
		job, err := gw.Submit(types.MeetingRequest{
			URL:           mt.MeetingURL,
			CorrelationID: mt.CorrelationID,
			RequestedAt:   time.Now(),
			Source:        "schedule:" + mt.Name,
			ReplyTo:       types.ChannelKey(mt.ReplyTo),
		})
		if err != nil {
			slog.Error("scheduled meeting not queued", "name", mt.Name, "error", err)
			return
		}
		slog.Info("scheduled meeting queued", "name", mt.Name, "job_id", string(job.ID))
	}, slog.Default())
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	opts := []webhook.Option{
		webhook.WithMeetings(meetings),
		webhook.WithJournal(journal),
		webhook.WithLogger(slog.Default()),
	}
	if m != nil {
		opts = append(opts, webhook.WithMetricsHandler(m.Handler()))
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           webhook.NewServer(gw, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		httpServer.Shutdown(sctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		sig := <-sigChan
		if sig == syscall.SIGUSR1 {
			if err := sched.Reload(); err != nil {
				slog.Error("schedule reload failed", "error", err)
			} else {
				slog.Info("schedule reloaded")
			}
			continue
		}
		if sig == syscall.SIGHUP {
			// Re-exec would orphan the browser and ffmpeg of running jobs.
			if !gw.Queue.WaitIdle(5 * time.Second) {
				slog.Warn("restart refused while jobs are active", "active", gw.Queue.Active())
				continue
			}
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			lock.Unlock()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if ok, _ := lock.TryLock(); !ok {
					return fmt.Errorf("lost daemon lock after failed restart")
				}
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig.String(), "active_jobs", gw.Queue.Active())
		return nil
	}
}
