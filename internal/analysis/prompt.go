package analysis

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Criterion is one item of the meeting checklist.
type Criterion struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DefaultCriteria is the sales-meeting checklist used when none is configured.
var DefaultCriteria = []Criterion{
	{ID: "1", Title: "Introduction", Description: "Manager introduced themselves and the company and set an agenda."},
	{ID: "2", Title: "Needs discovery", Description: "Open questions about the client's business, goals and current process."},
	{ID: "3", Title: "Pain points", Description: "Concrete problems and their cost to the client were identified."},
	{ID: "4", Title: "Decision process", Description: "Decision makers, budget and timeline were clarified."},
	{ID: "5", Title: "Solution fit", Description: "The offer was tied to the client's stated needs, with relevant cases."},
	{ID: "6", Title: "Objection handling", Description: "Doubts were heard out and answered, not dismissed."},
	{ID: "7", Title: "Next steps", Description: "A concrete follow-up with a date was agreed."},
	{ID: "8", Title: "Client engagement", Description: "The client asked questions and showed interest."},
}

// DefaultPrompt is the system prompt template. It is rendered with PromptData.
const DefaultPrompt = `You review recorded sales meetings. Current time: {{.Time}}.

Score the meeting transcript against each checklist item from 0 to 10 and
give a one-sentence comment per item.

Checklist:
{{- range .Criteria}}
{{.ID}}. {{.Title}}: {{.Description}}
{{- end}}

Then give an overall score from 0 to 100 and grade the lead:
A - hot, ready to buy soon;
B - warm, interested but needs nurturing;
C - cold, no fit or no interest.

Reply with a single JSON object and nothing else:
{"overall_score": <0-100>, "category": "A|B|C", "criteria": {"<id>": {"score": <0-10>, "comment": "<text>"}}, "summary": "<2-3 sentences>"}
{{- if .Truncated}}

Part of the transcript was omitted to fit the context window; the gap is marked.
{{- end}}`

// PromptData is the data passed to the prompt template.
type PromptData struct {
	Time      string
	Criteria  []Criterion
	Truncated bool
}

func parsePrompt(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New("analysis").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, criteria []Criterion, truncated bool, now time.Time) (string, error) {
	var sb strings.Builder
	data := PromptData{
		Time:      now.Format(time.RFC3339),
		Criteria:  criteria,
		Truncated: truncated,
	}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}
