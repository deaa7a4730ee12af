// Package recording captures the host audio sink into a WAV file through an
// ffmpeg subprocess.
package recording

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Config describes the capture device, encoding and limits.
type Config struct {
	FFmpegPath  string
	InputFormat string
	Input       string
	OutputDir   string
	MaxDuration time.Duration
	SampleRate  int
	Channels    int
	Filters     string
	StopGrace   time.Duration
}

// DefaultConfig records the PulseAudio default sink monitor as 16 kHz mono PCM.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		InputFormat: "pulse",
		Input:       "default.monitor",
		OutputDir:   "/tmp/recordings",
		MaxDuration: time.Hour,
		SampleRate:  16000,
		Channels:    1,
		Filters:     "highpass=f=200,lowpass=f=4000",
		StopGrace:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.InputFormat == "" {
		c.InputFormat = def.InputFormat
	}
	if c.Input == "" {
		c.Input = def.Input
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	return c
}

// CommandBuilder creates the capture command writing to outPath.
type CommandBuilder func(cfg Config, outPath string) *exec.Cmd

// Controller starts recordings. It holds no per-recording state.
type Controller struct {
	cfg    Config
	build  CommandBuilder
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithCommandBuilder replaces the ffmpeg command, mainly for tests.
func WithCommandBuilder(b CommandBuilder) Option {
	return func(c *Controller) { c.build = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller. Zero config fields take DefaultConfig values.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{cfg: cfg.withDefaults(), logger: slog.Default()}
	c.build = ffmpegCommand
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Args returns the ffmpeg arguments for a recording written to outPath.
// The -t ceiling makes the subprocess stop on its own at MaxDuration.
func Args(cfg Config, outPath string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", cfg.InputFormat,
		"-i", cfg.Input,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-acodec", "pcm_s16le",
	}
	if cfg.Filters != "" {
		args = append(args, "-af", cfg.Filters)
	}
	args = append(args, "-t", strconv.Itoa(int(cfg.MaxDuration.Seconds())), outPath)
	return args
}

func ffmpegCommand(cfg Config, outPath string) *exec.Cmd {
	return exec.Command(cfg.FFmpegPath, Args(cfg, outPath)...)
}

// Start spawns the capture subprocess in its own process group. The returned
// handle is in the Starting state until the subprocess first reports progress.
func (c *Controller) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(c.cfg.OutputDir, uuid.New().String()+".wav")

	cmd := c.build(c.cfg, path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	h := newHandle(path, cmd, c.cfg.StopGrace, c.logger.With("pid", cmd.Process.Pid, "path", path))
	go h.supervise(stderr)
	h.logger.Info("recording started", "max_duration", c.cfg.MaxDuration)
	return h, nil
}

// Stop stops h and returns the artifact path. See Handle.Stop.
func (c *Controller) Stop(h *Handle) (string, error) {
	if h == nil {
		return "", fmt.Errorf("stop recording: nil handle")
	}
	return h.Stop()
}

// Sources lists the PulseAudio capture sources known to the host.
func Sources(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("list audio sources: %w", err)
	}
	var sources []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 {
			sources = append(sources, fields[1])
		}
	}
	return sources, sc.Err()
}
