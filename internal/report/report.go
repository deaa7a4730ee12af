// Package report renders operator-facing meeting summaries.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/user/meetbot/internal/types"
)

const (
	commentLimit = 50
	excerptLimit = 500
)

// Meeting is the input for a successful-run report.
type Meeting struct {
	URL        string
	LeadID     string
	Platform   string
	Transcript string
	Result     *types.AnalysisResult
	Warnings   []string
}

// Format renders a meeting report as plain text.
func Format(m Meeting) string {
	var sb strings.Builder
	sb.WriteString("📊 MEETING REPORT\n\n")
	fmt.Fprintf(&sb, "🔗 Link: %s\n", m.URL)
	if m.Platform != "" {
		fmt.Fprintf(&sb, "🖥 Platform: %s\n", m.Platform)
	}
	fmt.Fprintf(&sb, "📋 Lead ID: %s\n\n", orDefault(m.LeadID, "not set"))
	fmt.Fprintf(&sb, "📝 Transcript length: %d characters\n", len([]rune(m.Transcript)))

	if r := m.Result; r != nil {
		fmt.Fprintf(&sb, "⭐ Overall score: %d/100\n", r.OverallScore)
		fmt.Fprintf(&sb, "🏷 Client category: %s\n", r.Category)
		if len(r.Criteria) > 0 {
			sb.WriteString("\n📋 Checklist:\n")
			for _, id := range CriterionIDs(r.Criteria) {
				c := r.Criteria[id]
				fmt.Fprintf(&sb, "%s. %d/10 - %s\n", id, c.Score, Truncate(c.Comment, commentLimit))
			}
		}
		if r.Summary != "" {
			fmt.Fprintf(&sb, "\n💡 Summary:\n%s\n", r.Summary)
		}
	}

	if len(m.Warnings) > 0 {
		sb.WriteString("\n⚠️ Warnings:\n")
		for _, w := range m.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	if m.Transcript != "" {
		fmt.Fprintf(&sb, "\n🎧 Transcript (first %d characters):\n%s", excerptLimit, Truncate(m.Transcript, excerptLimit))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatFailure renders the operator notice for a failed run.
func FormatFailure(url, leadID, stage string, err error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "❌ Meeting processing failed: %s\n", url)
	if leadID != "" {
		fmt.Fprintf(&sb, "Lead ID: %s\n", leadID)
	}
	if stage != "" {
		fmt.Fprintf(&sb, "Stage: %s\n", stage)
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	fmt.Fprintf(&sb, "Error: %s", msg)
	return sb.String()
}

// CriterionIDs returns the keys of criteria in checklist order: numeric IDs
// ascending first, then the rest lexically.
func CriterionIDs(criteria map[string]types.CriterionScore) []string {
	ids := make([]string, 0, len(criteria))
	for id := range criteria {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
