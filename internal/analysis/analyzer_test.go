package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/meetbot/internal/retry"
	"github.com/user/meetbot/internal/types"
	"github.com/user/meetbot/pkg/llm"
)

type fakeProvider struct {
	replies  []string
	errs     []error
	calls    int
	messages []llm.Message
}

func (f *fakeProvider) Complete(_ context.Context, messages []llm.Message) (*llm.Response, error) {
	i := f.calls
	f.calls++
	f.messages = messages
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	return &llm.Response{Content: reply}, nil
}

const goodReply = `{"overall_score": 82, "category": "A", "criteria": {"1": {"score": 9, "comment": "clear intro"}, "2": {"score": 7, "comment": "good questions"}}, "summary": "Client wants a pilot."}`

func TestAnalyze(t *testing.T) {
	p := &fakeProvider{replies: []string{goodReply}}
	a, err := New(p)
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Analyze(context.Background(), "Manager: hello\nClient: hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.OverallScore != 82 || res.Category != types.CategoryA {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Criteria["2"].Comment != "good questions" {
		t.Errorf("criterion 2 = %+v", res.Criteria["2"])
	}

	if len(p.messages) != 2 || p.messages[0].Role != "system" || p.messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", p.messages)
	}
	if !strings.Contains(p.messages[0].Content, "Needs discovery") {
		t.Error("system prompt should list the checklist")
	}
	if !strings.Contains(p.messages[1].Content, "Client: hi") {
		t.Error("user message should carry the transcript")
	}
}

func TestAnalyzeEmptyTranscript(t *testing.T) {
	p := &fakeProvider{replies: []string{goodReply}}
	a, _ := New(p)

	_, err := a.Analyze(context.Background(), "  \n ")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if p.calls != 0 {
		t.Error("provider should not be called for empty transcripts")
	}
}

func TestAnalyzeRetriesTransportErrors(t *testing.T) {
	p := &fakeProvider{
		errs:    []error{errors.New("connection reset by peer"), nil},
		replies: []string{"", goodReply},
	}
	policy := &retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	a, _ := New(p, WithRetry(policy))

	if _, err := a.Analyze(context.Background(), "text"); err != nil {
		t.Fatal(err)
	}
	if p.calls != 2 {
		t.Errorf("expected 2 calls, got %d", p.calls)
	}
}

func TestAnalyzeMalformedReplyNotRetried(t *testing.T) {
	p := &fakeProvider{replies: []string{"I cannot help with that."}}
	policy := &retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	a, _ := New(p, WithRetry(policy))

	_, err := a.Analyze(context.Background(), "text")
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("malformed reply should not be retried, got %d calls", p.calls)
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		score   int
		cat     types.Category
	}{
		{name: "plain", raw: goodReply, score: 82, cat: types.CategoryA},
		{name: "fenced", raw: "```json\n" + goodReply + "\n```", score: 82, cat: types.CategoryA},
		{name: "prose around", raw: "Here you go:\n" + goodReply + "\nThanks", score: 82, cat: types.CategoryA},
		{name: "camel case", raw: `{"overallScore": 40, "category": "b", "points": {"1": {"score": 4, "comment": "x"}}, "summary": "s"}`, score: 40, cat: types.CategoryB},
		{name: "score out of range", raw: `{"overall_score": 140, "category": "A"}`, wantErr: true},
		{name: "unknown category", raw: `{"overall_score": 50, "category": "D"}`, wantErr: true},
		{name: "criterion out of range", raw: `{"overall_score": 50, "category": "C", "criteria": {"1": {"score": 11}}}`, wantErr: true},
		{name: "missing score", raw: `{"category": "C"}`, wantErr: true},
		{name: "not json", raw: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResult(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.OverallScore != tt.score || res.Category != tt.cat {
				t.Errorf("got score=%d category=%s", res.OverallScore, res.Category)
			}
		})
	}
}

func TestWithPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	if err := os.WriteFile(path, []byte("Custom {{range .Criteria}}[{{.ID}}]{{end}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{replies: []string{goodReply}}
	a, err := New(p, WithPromptFile(path), WithCriteria([]Criterion{{ID: "x"}, {ID: "y"}}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Analyze(context.Background(), "text"); err != nil {
		t.Fatal(err)
	}
	if p.messages[0].Content != "Custom [x][y]" {
		t.Errorf("unexpected system prompt %q", p.messages[0].Content)
	}
}

func TestOptionErrors(t *testing.T) {
	if _, err := New(&fakeProvider{}, WithCriteria(nil)); err == nil {
		t.Error("expected error for empty criteria")
	}
	if _, err := New(&fakeProvider{}, WithPromptFile("/nonexistent/prompt")); err == nil {
		t.Error("expected error for missing prompt file")
	}
}
