package browser

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/platform"
)

func TestOpenRejectsInvalidURL(t *testing.T) {
	d := NewDriver(Config{}, join.NewExecutor(join.DefaultTable("")), nil)
	s, err := d.Open(context.Background(), "not-a-url")
	var invalid *platform.InvalidURLError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidURLError, got %v", err)
	}
	if s != nil {
		t.Fatal("no session may be created for an invalid URL")
	}
}

func TestNewDriverDefaults(t *testing.T) {
	d := NewDriver(Config{SettleDelay: -time.Second}, nil, nil)
	if d.cfg.UserAgent != defaultUserAgent {
		t.Errorf("expected default user agent, got %q", d.cfg.UserAgent)
	}
	if d.cfg.WindowWidth != 1280 || d.cfg.WindowHeight != 800 {
		t.Errorf("expected 1280x800, got %dx%d", d.cfg.WindowWidth, d.cfg.WindowHeight)
	}
	if d.cfg.NavigationTimeout != 90*time.Second {
		t.Errorf("expected 90s navigation timeout, got %s", d.cfg.NavigationTimeout)
	}
	if d.cfg.SettleDelay != 0 {
		t.Errorf("expected negative settle delay clamped to 0, got %s", d.cfg.SettleDelay)
	}
}

func TestAllocatorOptionsIncludeExtras(t *testing.T) {
	base := NewDriver(Config{}, nil, nil).allocatorOptions(t.TempDir())
	withExtras := NewDriver(Config{
		ExecPath:   "/usr/bin/chromium",
		ExtraFlags: map[string]string{"lang": "ru-RU", "disable-gpu": ""},
	}, nil, nil).allocatorOptions(t.TempDir())
	if len(withExtras) != len(base)+3 {
		t.Errorf("expected 3 extra options, got %d vs %d", len(withExtras), len(base))
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	dir := t.TempDir() + "/profile"
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var cancels int
	s := &Session{
		allocCancel: func() { cancels++ },
		tabCancel:   func() { cancels++ },
		profileDir:  dir,
	}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if cancels != 2 {
		t.Errorf("expected each cancel called once, got %d calls", cancels)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expected profile directory removed")
	}
}

func TestNilSessionSafe(t *testing.T) {
	var s *Session
	if err := s.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if s.PID() != 0 {
		t.Error("expected zero PID for nil session")
	}
	if s.Page() != nil {
		t.Error("expected nil page for nil session")
	}
	if _, err := s.Snapshot(context.Background()); err == nil {
		t.Error("expected snapshot error for nil session")
	}
}

func TestNavigationErrorUnwrap(t *testing.T) {
	err := &NavigationError{URL: "https://x.org", Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected NavigationError to unwrap")
	}
	if !strings.Contains(err.Error(), "https://x.org") {
		t.Errorf("expected url in message, got %q", err.Error())
	}
}

func TestHTMLExcerpt(t *testing.T) {
	md, err := htmlExcerpt("<html><body><h1>Waiting room</h1><button>Join now</button></body></html>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Waiting room") {
		t.Errorf("expected heading text in excerpt, got %q", md)
	}

	long := "<p>" + strings.Repeat("a", maxSnapshotChars*2) + "</p>"
	md, err = htmlExcerpt(long)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(md, "[Content truncated]") {
		t.Error("expected long page to be truncated")
	}

	cyrillic := "<p>" + strings.Repeat("ожидание ", maxSnapshotChars) + "</p>"
	md, err = htmlExcerpt(cyrillic)
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(md) {
		t.Error("truncated excerpt split a multi-byte character")
	}
	body := strings.TrimSuffix(md, "\n\n[Content truncated]")
	if n := utf8.RuneCountInString(body); n != maxSnapshotChars {
		t.Errorf("excerpt has %d runes, want %d", n, maxSnapshotChars)
	}
}

func TestStealthScriptIsRepeatable(t *testing.T) {
	guard := strings.Index(stealthScript, "if (window.__meetbotStealth) return")
	first := strings.Index(stealthScript, "defineProperty(navigator")
	if guard < 0 || first < 0 || guard > first {
		t.Fatal("stealth script must return early before redefining navigator properties")
	}
	defines := strings.Count(stealthScript, "defineProperty(navigator")
	configurable := strings.Count(stealthScript, "configurable: true")
	if defines != configurable {
		t.Errorf("%d navigator properties defined, %d marked configurable", defines, configurable)
	}
}
