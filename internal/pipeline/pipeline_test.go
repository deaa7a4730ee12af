package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/user/meetbot/internal/crm"
	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/recording"
	"github.com/user/meetbot/internal/types"
)

func processAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

// fakeSession stands in for a browser with a real, killable process.
type fakeSession struct {
	cmd      *exec.Cmd
	warnings []string

	mu     sync.Mutex
	closed int
}

func startFakeSession(t *testing.T) *fakeSession {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return &fakeSession{cmd: cmd}
}

func (s *fakeSession) PID() int { return s.cmd.Process.Pid }
func (s *fakeSession) Warnings() []string { return s.warnings }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.closed == 1 {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeOpener struct {
	t       *testing.T
	err     error
	join    func(ctx context.Context) error
	calls   int
	session *fakeSession
}

func (o *fakeOpener) Open(ctx context.Context, _ string) (Session, error) {
	o.calls++
	o.session = startFakeSession(o.t)
	if o.join != nil {
		if err := o.join(ctx); err != nil {
			return o.session, err
		}
	}
	return o.session, o.err
}

type failingRecorder struct{ err error }

func (r failingRecorder) Start(context.Context) (Recording, error) { return nil, r.err }

type fakeTranscriber struct {
	text string
	err  error
	path string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.path = path
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeAnalyzer struct {
	result *types.AnalysisResult
	err    error
}

func (f fakeAnalyzer) Analyze(context.Context, string) (*types.AnalysisResult, error) {
	return f.result, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	messages map[string][]string
}

func (n *fakeNotifier) Deliver(channel, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.messages == nil {
		n.messages = map[string][]string{}
	}
	n.messages[channel] = append(n.messages[channel], message)
	return n.err
}

func (n *fakeNotifier) sent(channel string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.messages[channel]
}

type fakeCRM struct {
	mu      sync.Mutex
	err     error
	updates []crm.Update
}

func (c *fakeCRM) UpdateLead(_ context.Context, u crm.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return c.err
}

// scriptRecorder returns a recorder whose capture process is a shell script
// that writes about two seconds of silent 16 kHz mono audio and then waits.
func scriptRecorder(t *testing.T) (Recorder, *[]*recording.Handle) {
	return shellRecorder(t, `echo "size=1kB time=00:00:01" >&2; head -c 64044 /dev/zero > "$1"; sleep 30`)
}

// shellRecorder runs script as the capture process with the output path as $1.
func shellRecorder(t *testing.T, script string) (Recorder, *[]*recording.Handle) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := recording.NewController(
		recording.Config{OutputDir: t.TempDir(), StopGrace: time.Second},
		recording.WithCommandBuilder(func(_ recording.Config, out string) *exec.Cmd {
			return exec.Command("sh", "-c", script, "sh", out)
		}),
	)
	var handles []*recording.Handle
	return recorderFunc(func(ctx context.Context) (Recording, error) {
		h, err := c.Start(ctx)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
		return h, nil
	}), &handles
}

type recorderFunc func(ctx context.Context) (Recording, error)

func (f recorderFunc) Start(ctx context.Context) (Recording, error) { return f(ctx) }

const operator types.ChannelKey = "telegram:1"

var scenarioResult = &types.AnalysisResult{OverallScore: 80, Category: types.CategoryB, Summary: "ok"}

type harness struct {
	opener      *fakeOpener
	recorder    Recorder
	handles     *[]*recording.Handle
	transcriber *fakeTranscriber
	analyzer    fakeAnalyzer
	notifier    *fakeNotifier
	crm         *fakeCRM
	cfg         Config
}

func newHarness(t *testing.T) *harness {
	rec, handles := scriptRecorder(t)
	return &harness{
		opener:      &fakeOpener{t: t},
		recorder:    rec,
		handles:     handles,
		transcriber: &fakeTranscriber{text: "hello world"},
		analyzer:    fakeAnalyzer{result: scenarioResult},
		notifier:    &fakeNotifier{},
		crm:         &fakeCRM{},
		cfg:         Config{MaxSession: 300 * time.Millisecond, OperatorChannel: operator},
	}
}

func (h *harness) pipeline() *Pipeline {
	return New(h.cfg, Deps{
		Opener:      h.opener,
		Recorder:    h.recorder,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		Notifier:    h.notifier,
		CRM:         h.crm,
	})
}

// assertReleased checks that neither the browser stand-in nor any capture
// process is left running.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if s := h.opener.session; s != nil {
		if s.closeCount() != 1 {
			t.Errorf("expected session closed once, got %d", s.closeCount())
		}
		if processAlive(s.PID()) {
			t.Errorf("browser process %d still running", s.PID())
		}
	}
	for _, rh := range *h.handles {
		select {
		case <-rh.Done():
		default:
			t.Errorf("capture process %d not reaped", rh.PID())
		}
		if processAlive(rh.PID()) {
			t.Errorf("capture process %d still running", rh.PID())
		}
	}
}

func request(url string) types.MeetingRequest {
	return types.MeetingRequest{URL: url, CorrelationID: "42", RequestedAt: time.Now(), Source: "test"}
}

func TestScenarioGoogleMeetDone(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline().Run(context.Background(), request("https://meet.google.com/abc-defg-hij"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("expected Done, got %s", res.State)
	}
	if res.Platform != platform.GoogleMeet {
		t.Errorf("expected googleMeet, got %s", res.Platform)
	}
	if res.Analysis != scenarioResult {
		t.Errorf("unexpected analysis %+v", res.Analysis)
	}
	if res.Transcript != "hello world" {
		t.Errorf("unexpected transcript %q", res.Transcript)
	}

	var states []string
	for _, tr := range res.Transitions {
		states = append(states, string(tr.To))
	}
	want := "joining,recording,stopping,transcribing,analyzing,reporting,done"
	if got := strings.Join(states, ","); got != want {
		t.Errorf("transitions = %s, want %s", got, want)
	}

	if _, err := os.Stat(h.transcriber.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact should be deleted after transcription, stat err = %v", err)
	}
	if msgs := h.notifier.sent(string(operator)); len(msgs) != 1 || !strings.Contains(msgs[0], "80/100") {
		t.Errorf("expected one report to the operator, got %v", msgs)
	}
	if len(h.crm.updates) != 1 || h.crm.updates[0].RecordID != "42" {
		t.Errorf("expected CRM update for lead 42, got %+v", h.crm.updates)
	}
	h.assertReleased(t)
}

func TestScenarioInvalidURL(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline().Run(context.Background(), request("not-a-url"))
	var invalid *platform.InvalidURLError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidURLError, got %v", err)
	}
	if res.State != StateFailed || res.FailedStage() != StateIdle {
		t.Errorf("expected Failed at idle, got %s at %s", res.State, res.FailedStage())
	}
	if h.opener.calls != 0 {
		t.Error("no session should be opened for a malformed URL")
	}
	if len(*h.handles) != 0 {
		t.Error("no recording should be started for a malformed URL")
	}
}

type failingPage struct{}

func (failingPage) WaitVisible(context.Context, string) error { return errors.New("element not found") }
func (failingPage) Click(context.Context, string) error { return errors.New("not clickable") }
func (failingPage) Type(context.Context, string, string) error { return errors.New("not typeable") }
func (failingPage) Evaluate(context.Context, string) (bool, error) { return false, nil }
func (failingPage) GrantMediaPermissions(context.Context, string) error { return nil }
func (failingPage) InstallStealth(context.Context) error { return nil }
func (failingPage) Origin() string { return "https://meet.google.com" }

func TestScenarioRequiredStepExhausted(t *testing.T) {
	h := newHarness(t)
	executor := join.NewExecutor(join.Table{
		platform.GoogleMeet: {{
			Name:       "join",
			Required:   true,
			Timeout:    50 * time.Millisecond,
			Candidates: []join.Action{join.Click{Selector: "#a"}, join.Click{Selector: "#b"}, join.Click{Selector: "#c"}},
		}},
	})
	h.opener.join = func(ctx context.Context) error {
		_, err := executor.Run(ctx, platform.GoogleMeet, failingPage{})
		return err
	}

	res, err := h.pipeline().Run(context.Background(), request("https://meet.google.com/abc-defg-hij"))
	var exhausted *join.StepExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected StepExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if res.State != StateFailed || res.FailedStage() != StateJoining {
		t.Errorf("expected Failed at joining, got %s at %s", res.State, res.FailedStage())
	}
	if h.opener.session.closeCount() != 1 {
		t.Error("session must be closed after a join failure")
	}
	if len(*h.handles) != 0 {
		t.Error("recording must not start after a join failure")
	}
	h.assertReleased(t)
}

func TestCleanupAtEveryFailurePoint(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		stage   State
		wantErr error
		wantAs  func(error) bool
	}{
		{
			name:  "join",
			setup: func(_ *testing.T, h *harness) { h.opener.err = errors.New("navigation timeout") },
			stage: StateJoining,
		},
		{
			name:  "recording start",
			setup: func(_ *testing.T, h *harness) { h.recorder = failingRecorder{err: errors.New("start ffmpeg: not found")} },
			stage: StateRecording,
		},
		{
			name: "empty artifact",
			setup: func(t *testing.T, h *harness) {
				h.recorder, h.handles = shellRecorder(t, `: > "$1"; sleep 30`)
			},
			stage: StateStopping,
			wantAs: func(err error) bool {
				var artifact *recording.ArtifactError
				return errors.As(err, &artifact)
			},
		},
		{
			name:    "transcription error",
			setup:   func(_ *testing.T, h *harness) { h.transcriber.err = errors.New("503") },
			stage:   StateTranscribing,
			wantErr: ErrTranscriptionFailed,
		},
		{
			name:    "empty transcript",
			setup:   func(_ *testing.T, h *harness) { h.transcriber.text = "   " },
			stage:   StateTranscribing,
			wantErr: ErrTranscriptionFailed,
		},
		{
			name:    "analysis",
			setup:   func(_ *testing.T, h *harness) { h.analyzer = fakeAnalyzer{err: errors.New("malformed")} },
			stage:   StateAnalyzing,
			wantErr: ErrAnalysisFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			res, err := h.pipeline().Run(context.Background(), request("https://zoom.us/j/123"))
			if err == nil {
				t.Fatal("expected failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantAs != nil && !tt.wantAs(err) {
				t.Errorf("unexpected error type %T: %v", errors.Unwrap(err), err)
			}
			if res.State != StateFailed || res.FailedStage() != tt.stage {
				t.Errorf("expected Failed at %s, got %s at %s", tt.stage, res.State, res.FailedStage())
			}
			h.assertReleased(t)

			msgs := h.notifier.sent(string(operator))
			if len(msgs) != 1 || !strings.Contains(msgs[0], "Stage: "+string(tt.stage)) {
				t.Errorf("expected failure notice for stage %s, got %v", tt.stage, msgs)
			}
			if len(h.crm.updates) != 0 {
				t.Error("CRM must not be updated for a failed job")
			}
		})
	}
}

func TestUnusableArtifactRemoved(t *testing.T) {
	for _, keep := range []bool{false, true} {
		h := newHarness(t)
		h.recorder, h.handles = shellRecorder(t, `printf 'RIFF' > "$1"; sleep 30`)
		h.cfg.KeepArtifacts = keep

		res, _ := h.pipeline().Run(context.Background(), request("https://zoom.us/j/123"))
		if res.FailedStage() != StateStopping {
			t.Fatalf("keep=%v: expected failure at stopping, got %s", keep, res.FailedStage())
		}
		if len(*h.handles) != 1 {
			t.Fatalf("expected one recording, got %d", len(*h.handles))
		}
		_, statErr := os.Stat((*h.handles)[0].Path())
		if exists := statErr == nil; exists != keep {
			t.Errorf("keep=%v: artifact exists=%v", keep, exists)
		}
		h.assertReleased(t)
	}
}

func TestReportingFailureKeepsDone(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("telegram down")
	h.crm.err = errors.New("bitrix down")

	res, err := h.pipeline().Run(context.Background(), request("https://meet.google.com/abc-defg-hij"))
	if err != nil {
		t.Fatalf("reporting failures must not fail the job: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("expected Done, got %s", res.State)
	}
	if res.Analysis != scenarioResult {
		t.Error("analysis result must be intact")
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", res.Warnings)
	}
	for _, w := range res.Warnings {
		if !strings.HasPrefix(w, ErrReportingFailed.Error()) {
			t.Errorf("unexpected warning %q", w)
		}
	}
	h.assertReleased(t)
}

func TestStopSignalEndsRecording(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxSession = time.Hour
	stop := make(chan struct{})
	time.AfterFunc(200*time.Millisecond, func() { close(stop) })

	start := time.Now()
	res, err := h.pipeline().Run(context.Background(), request("https://teams.microsoft.com/l/meetup-join/x"), WithStopSignal(stop))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateDone {
		t.Errorf("expected Done, got %s", res.State)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("stop signal did not end the recording wait")
	}
	h.assertReleased(t)
}

func TestAbortDuringRecording(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxSession = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := h.pipeline().Run(ctx, request("https://zoom.us/j/123"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.FailedStage() != StateRecording {
		t.Errorf("expected failure at recording, got %s", res.FailedStage())
	}
	h.assertReleased(t)
}

func TestJoinWarningsCarried(t *testing.T) {
	h := newHarness(t)
	h.opener.join = func(context.Context) error {
		h.opener.session.warnings = []string{"step mute skipped"}
		return nil
	}

	res, err := h.pipeline().Run(context.Background(), request("https://zoom.us/j/123"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "join: step mute skipped" {
		t.Errorf("unexpected warnings %v", res.Warnings)
	}
	if msgs := h.notifier.sent(string(operator)); len(msgs) != 1 || !strings.Contains(msgs[0], "step mute skipped") {
		t.Error("report should list join warnings")
	}
}

func TestNoCRMWithoutLead(t *testing.T) {
	h := newHarness(t)
	req := request("https://zoom.us/j/123")
	req.CorrelationID = ""

	if _, err := h.pipeline().Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(h.crm.updates) != 0 {
		t.Error("CRM should be skipped without a lead id")
	}
}

func TestReportGoesToReplyChannel(t *testing.T) {
	h := newHarness(t)
	req := request("https://zoom.us/j/123")
	req.ReplyTo = "telegram:555"

	if _, err := h.pipeline().Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := len(h.notifier.sent(string(operator))); n != 1 {
		t.Errorf("expected 1 operator report, got %d", n)
	}
	if n := len(h.notifier.sent("telegram:555")); n != 1 {
		t.Errorf("expected 1 reply-channel report, got %d", n)
	}

	h = newHarness(t)
	req.ReplyTo = operator
	if _, err := h.pipeline().Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := len(h.notifier.sent(string(operator))); n != 1 {
		t.Errorf("same channel should get one report, got %d", n)
	}
}

func TestResultRecord(t *testing.T) {
	h := newHarness(t)
	h.opener.err = errors.New("boom")

	res, _ := h.pipeline().Run(context.Background(), request("https://zoom.us/j/123"), WithJobID("job-1"))
	rec := res.Record()
	if rec.ID != "job-1" || rec.Status != "failed" || rec.Stage != "joining" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !strings.Contains(rec.Error, "boom") {
		t.Errorf("record error = %q", rec.Error)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Error("EndedAt before StartedAt")
	}
}
