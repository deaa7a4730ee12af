// internal/types/models.go
package types

import (
	"errors"
	"fmt"
	"time"
)

// MeetingRequest is an accepted request to attend, record and analyze one meeting.
// It is not modified after acceptance.
type MeetingRequest struct {
	URL           string     `json:"url"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	Source        string     `json:"source"`
	ReplyTo       ChannelKey `json:"reply_to,omitempty"`
}

// Category is the lead grade assigned by analysis.
type Category string

const (
	CategoryA Category = "A"
	CategoryB Category = "B"
	CategoryC Category = "C"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryA, CategoryB, CategoryC:
		return true
	}
	return false
}

// CriterionScore is the score for one checklist item, 0..10.
type CriterionScore struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// AnalysisResult is the structured evaluation of a transcript.
type AnalysisResult struct {
	OverallScore int                       `json:"overall_score"`
	Category     Category                  `json:"category"`
	Criteria     map[string]CriterionScore `json:"criteria"`
	Summary      string                    `json:"summary"`
}

// Validate checks the result against its documented ranges.
func (a *AnalysisResult) Validate() error {
	if a == nil {
		return errors.New("analysis result is nil")
	}
	if a.OverallScore < 0 || a.OverallScore > 100 {
		return fmt.Errorf("overall score %d out of range 0..100", a.OverallScore)
	}
	if !a.Category.Valid() {
		return fmt.Errorf("unknown category %q", a.Category)
	}
	for id, c := range a.Criteria {
		if c.Score < 0 || c.Score > 10 {
			return fmt.Errorf("criterion %s score %d out of range 0..10", id, c.Score)
		}
	}
	return nil
}

// JobRecord is the journal entry written when a job settles.
type JobRecord struct {
	Seq         int64           `json:"seq"`
	ID          JobID           `json:"id"`
	Request     MeetingRequest  `json:"request"`
	Platform    string          `json:"platform,omitempty"`
	Status      string          `json:"status"`
	Stage       string          `json:"stage,omitempty"`
	Error       string          `json:"error,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Transitions []string        `json:"transitions,omitempty"`
	Analysis    *AnalysisResult `json:"analysis,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
}
