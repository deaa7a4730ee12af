// Package browser launches an isolated chromium instance, opens a meeting
// link in it and hands the loaded page to the join executor.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/platform"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how chromium is launched and how long navigation may take.
type Config struct {
	ExecPath          string
	Headless          bool
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ExtraFlags        map[string]string
}

// DefaultConfig returns launch settings for a desktop-sized, headed browser.
func DefaultConfig() Config {
	return Config{
		UserAgent:         defaultUserAgent,
		WindowWidth:       1280,
		WindowHeight:      800,
		NavigationTimeout: 90 * time.Second,
		SettleDelay:       5 * time.Second,
	}
}

// NavigationError is returned when the meeting page fails to load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Driver opens meeting sessions.
type Driver struct {
	cfg    Config
	exec   *join.Executor
	logger *slog.Logger
}

// NewDriver creates a Driver that joins with exec. A nil logger uses slog.Default.
func NewDriver(cfg Config, exec *join.Executor, logger *slog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{cfg: cfg, exec: exec, logger: logger}
}

func (d *Driver) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
		chromedp.UserAgent(d.cfg.UserAgent),
		chromedp.NoSandbox,
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}
	for k, v := range d.cfg.ExtraFlags {
		if v == "" {
			opts = append(opts, chromedp.Flag(k, true))
		} else {
			opts = append(opts, chromedp.Flag(k, v))
		}
	}
	return opts
}

// Open launches a browser, loads meetingURL and joins the call. On failure
// the partially started session is returned together with the error so the
// caller can release it; Close is safe on any returned session.
func (d *Driver) Open(ctx context.Context, meetingURL string) (*Session, error) {
	variant, err := platform.Classify(meetingURL)
	if err != nil {
		return nil, err
	}
	origin, _ := platform.Origin(meetingURL)
	log := d.logger.With("platform", string(variant))

	profileDir, err := os.MkdirTemp("", "meetbot-profile-*")
	if err != nil {
		return nil, fmt.Errorf("create browser profile: %w", err)
	}

	// The browser lives until Close, independent of the caller's context.
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, d.allocatorOptions(profileDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}))

	s := &Session{
		URL:         meetingURL,
		Platform:    variant,
		tab:         &tab{ctx: tabCtx, origin: origin},
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		profileDir:  profileDir,
		logger:      log,
	}

	// First Run starts the browser process.
	if err := s.tab.run(ctx, installStealthOnNewDocument(), grantPermissions(origin)); err != nil {
		return s, fmt.Errorf("launch browser: %w", err)
	}
	log.Info("browser launched", "pid", s.PID(), "headless", d.cfg.Headless)

	navCtx, navCancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	err = s.tab.run(navCtx, chromedp.Navigate(meetingURL))
	navCancel()
	if err != nil {
		return s, &NavigationError{URL: meetingURL, Err: err}
	}
	log.Info("meeting page loaded", "url", meetingURL)

	if err := (join.Pause{Delay: d.cfg.SettleDelay}).Apply(ctx, nil); err != nil {
		return s, err
	}

	report, err := d.exec.Run(ctx, variant, s.tab)
	s.Report = report
	if err != nil {
		var exhausted *join.StepExhaustedError
		if errors.As(err, &exhausted) {
			if md, snapErr := s.Snapshot(base); snapErr == nil {
				log.Warn("page at join failure", "step", exhausted.Step, "content", md)
			}
		}
		return s, err
	}
	log.Info("joined meeting", "warnings", len(report.Warnings))
	return s, nil
}

// Session is one browser process with one tab, owned by a single job.
type Session struct {
	URL      string
	Platform platform.Variant
	Report   *join.Report

	tab         *tab
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	profileDir  string
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// PID returns the browser process id, or 0 when the browser never started.
func (s *Session) PID() int {
	if s == nil || s.tab == nil {
		return 0
	}
	c := chromedp.FromContext(s.tab.ctx)
	if c == nil || c.Browser == nil {
		return 0
	}
	if p := c.Browser.Process(); p != nil {
		return p.Pid
	}
	return 0
}

// Page exposes the tab for further scripted interaction.
func (s *Session) Page() join.Page {
	if s == nil || s.tab == nil {
		return nil
	}
	return s.tab
}

// Close shuts the tab and the browser and removes the temporary profile.
// It is idempotent and safe on a nil or partially started session.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		pid := s.PID()
		if s.tabCancel != nil {
			s.tabCancel()
		}
		if s.allocCancel != nil {
			// blocks until the browser process has exited
			s.allocCancel()
		}
		if s.profileDir != "" {
			if err := os.RemoveAll(s.profileDir); err != nil {
				s.closeErr = fmt.Errorf("remove browser profile: %w", err)
			}
		}
		if s.logger != nil {
			s.logger.Info("browser closed", "pid", pid)
		}
	})
	return s.closeErr
}
