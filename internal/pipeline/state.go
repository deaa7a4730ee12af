package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/types"
)

// State is a pipeline stage. Done and Failed are terminal.
type State string

const (
	StateIdle         State = "idle"
	StateJoining      State = "joining"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateReporting    State = "reporting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAnalysisFailed      = errors.New("analysis failed")
	// ErrReportingFailed is never returned by Run; reporting failures are
	// recorded as warnings.
	ErrReportingFailed = errors.New("reporting failed")
)

// StageError attributes a fatal error to the stage it happened in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	JobID       types.JobID
	Request     types.MeetingRequest
	Platform    platform.Variant
	State       State
	Transcript  string
	Analysis    *types.AnalysisResult
	Warnings    []string
	Transitions []Transition
	Err         error
	StartedAt   time.Time
	EndedAt     time.Time
}

// FailedStage returns the stage a failed run stopped in, or "".
func (r *Result) FailedStage() State {
	var se *StageError
	if errors.As(r.Err, &se) {
		return se.Stage
	}
	return ""
}

// Record converts r to a journal entry.
func (r *Result) Record() *types.JobRecord {
	rec := &types.JobRecord{
		ID:        r.JobID,
		Request:   r.Request,
		Platform:  string(r.Platform),
		Status:    string(r.State),
		Stage:     string(r.FailedStage()),
		Warnings:  r.Warnings,
		Analysis:  r.Analysis,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	for _, t := range r.Transitions {
		rec.Transitions = append(rec.Transitions, string(t.To))
	}
	return rec
}
