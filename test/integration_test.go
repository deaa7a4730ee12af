//go:build integration

package test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/user/meetbot/internal/browser"
	"github.com/user/meetbot/internal/gateway"
	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/state"
	"github.com/user/meetbot/internal/types"
)

const meetingPage = `<!doctype html>
<html><body>
<h1>Waiting room</h1>
<button id="join" onclick="window.joined = true">Join now</button>
</body></html>`

func chromePath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("CHROME_BIN"); p != "" {
		return p
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no chromium binary available")
	return ""
}

func testDriver(t *testing.T) *browser.Driver {
	cfg := browser.DefaultConfig()
	cfg.ExecPath = chromePath(t)
	cfg.Headless = true
	cfg.SettleDelay = 200 * time.Millisecond
	cfg.NavigationTimeout = 20 * time.Second

	table := join.Table{
		platform.Generic: {
			{Name: "join", Candidates: []join.Action{join.Click{Selector: "#join"}}, Required: true, Timeout: 5 * time.Second},
		},
	}
	return browser.NewDriver(cfg, join.NewExecutor(table), nil)
}

func meetingServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, meetingPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestBrowserJoinsAndReleases(t *testing.T) {
	srv := meetingServer(t)
	d := testDriver(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := d.Open(ctx, srv.URL+"/room/1")
	if err != nil {
		s.Close()
		t.Fatalf("Open: %v", err)
	}
	pid := s.PID()
	if pid == 0 {
		t.Fatal("expected a browser pid")
	}

	joined, err := s.Page().Evaluate(ctx, "window.joined === true")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !joined {
		t.Error("join button was not clicked")
	}
	for _, w := range s.Report.Warnings {
		if strings.Contains(w, "stealth") {
			t.Errorf("unexpected join warning: %s", w)
		}
	}
	// the join already installed the shims once on this document
	if err := s.Page().InstallStealth(ctx); err != nil {
		t.Fatalf("repeated InstallStealth: %v", err)
	}
	hidden, err := s.Page().Evaluate(ctx, "navigator.webdriver === false")
	if err != nil || !hidden {
		t.Errorf("navigator.webdriver not hidden (err %v)", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if processAlive(pid) {
		t.Errorf("browser process %d still running after Close", pid)
	}
}

type staticRecording struct {
	path string
	done chan struct{}
}

func (r *staticRecording) Path() string          { return r.path }
func (r *staticRecording) PID() int              { return 0 }
func (r *staticRecording) Done() <-chan struct{} { return r.done }
func (r *staticRecording) Stop() (string, error) { return r.path, nil }

type staticRecorder struct{ dir string }

func (r staticRecorder) Start(context.Context) (pipeline.Recording, error) {
	path := filepath.Join(r.dir, "meeting.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	return &staticRecording{path: path, done: make(chan struct{})}, nil
}

type cannedTranscriber struct{}

func (cannedTranscriber) Transcribe(context.Context, string) (string, error) {
	return "Manager: hello. Client: we would like a demo next week.", nil
}

type cannedAnalyzer struct{}

func (cannedAnalyzer) Analyze(context.Context, string) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{OverallScore: 72, Category: types.CategoryB, Summary: "Demo booked"}, nil
}

func TestPipelineThroughGateway(t *testing.T) {
	srv := meetingServer(t)
	dir := t.TempDir()

	p := pipeline.New(pipeline.Config{MaxSession: time.Second}, pipeline.Deps{
		Opener:      pipeline.FromDriver(testDriver(t)),
		Recorder:    staticRecorder{dir: dir},
		Transcriber: cannedTranscriber{},
		Analyzer:    cannedAnalyzer{},
	})
	journal := state.NewJobJournal(dir)
	gw := gateway.New(p, journal, 1)
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := gw.Process(ctx, types.MeetingRequest{URL: srv.URL + "/room/2", CorrelationID: "77", Source: "test"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.State != pipeline.StateDone {
		t.Fatalf("state = %s, want done", res.State)
	}
	if res.Analysis == nil || res.Analysis.OverallScore != 72 {
		t.Errorf("analysis = %+v", res.Analysis)
	}
	if _, err := os.Stat(filepath.Join(dir, "meeting.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recording should be removed after transcription, stat err = %v", err)
	}

	records, err := journal.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(records) != 1 || records[0].Request.CorrelationID != "77" {
		t.Fatalf("journal = %+v", records)
	}
}
