// Package crm pushes meeting analysis into a Bitrix24 portal through an
// inbound REST webhook.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/meetbot/internal/report"
	"github.com/user/meetbot/internal/retry"
	"github.com/user/meetbot/internal/types"
)

// Bitrix owner type and activity type codes.
const (
	ownerTypeLead   = 1
	activityMeeting = 4
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("bitrix webhook url not configured")

// Update is one lead update request.
type Update struct {
	RecordID   string
	Result     *types.AnalysisResult
	MeetingURL string
}

// Config configures the Bitrix client.
type Config struct {
	// WebhookURL is the inbound webhook base, e.g.
	// https://example.bitrix24.ru/rest/1/secret
	WebhookURL    string
	ResponsibleID int
	GroupID       int
	Policies      map[types.Category]Policy
	Timeout       time.Duration
}

// APIError is an error answer from the Bitrix REST API.
type APIError struct {
	Method      string
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = "unknown bitrix error"
	}
	return fmt.Sprintf("bitrix %s (status %d): %s", e.Method, e.StatusCode, msg)
}

// Client talks to one Bitrix24 portal.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  *retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetry overrides the retry policy for each REST call.
func WithRetry(p *retry.Policy) Option { return func(c *Client) { c.retry = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New creates a Bitrix client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.ResponsibleID <= 0 {
		cfg.ResponsibleID = 1
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  retry.DefaultPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateLead writes the analysis to the lead, then records a completed
// meeting activity and a follow-up task. A failed lead update aborts; the
// activity and task are attempted independently and their errors joined.
func (c *Client) UpdateLead(ctx context.Context, u Update) error {
	if c.cfg.WebhookURL == "" {
		return ErrNotConfigured
	}
	if u.RecordID == "" {
		return errors.New("lead id is empty")
	}
	if u.Result == nil {
		return errors.New("analysis result is nil")
	}
	logger := c.logger.With("lead_id", u.RecordID)
	policy := PolicyFor(c.cfg.Policies, u.Result.Category)
	now := c.now()

	leadFields := map[string]any{
		"COMMENTS":               c.leadComment(u, policy, now),
		"STATUS_ID":              policy.Status,
		"UF_CRM_MEETING_SCORE":   u.Result.OverallScore,
		"UF_CRM_CLIENT_CATEGORY": string(u.Result.Category),
		"UF_CRM_LAST_MEETING":    now.Format(time.RFC3339),
	}
	if _, err := c.call(ctx, "crm.lead.update", map[string]any{"ID": u.RecordID, "fields": leadFields}); err != nil {
		return fmt.Errorf("update lead %s: %w", u.RecordID, err)
	}
	logger.Info("lead updated", "status", policy.Status)

	var errs []error

	activity := map[string]any{
		"OWNER_TYPE_ID":  ownerTypeLead,
		"OWNER_ID":       u.RecordID,
		"TYPE_ID":        activityMeeting,
		"SUBJECT":        "Meeting analysis",
		"DESCRIPTION":    activityDescription(u),
		"COMPLETED":      "Y",
		"PRIORITY":       policy.Priority,
		"RESPONSIBLE_ID": c.cfg.ResponsibleID,
		"START_TIME":     now.Format(time.RFC3339),
		"END_TIME":       now.Format(time.RFC3339),
	}
	if id, err := c.call(ctx, "crm.activity.add", map[string]any{"fields": activity}); err != nil {
		errs = append(errs, fmt.Errorf("add activity: %w", err))
	} else {
		logger.Info("activity added", "activity_id", string(id))
	}

	task := map[string]any{
		"TITLE":          fmt.Sprintf("Follow up lead after meeting - category %s", u.Result.Category),
		"DESCRIPTION":    taskDescription(u, policy),
		"RESPONSIBLE_ID": c.cfg.ResponsibleID,
		"PRIORITY":       policy.Priority,
		"DEADLINE":       now.AddDate(0, 0, policy.FollowUpDays).Format("2006-01-02"),
		"UF_CRM_TASK":    []string{"L_" + u.RecordID},
	}
	if c.cfg.GroupID > 0 {
		task["GROUP_ID"] = c.cfg.GroupID
	}
	if _, err := c.call(ctx, "tasks.task.add", map[string]any{"fields": task}); err != nil {
		errs = append(errs, fmt.Errorf("add task: %w", err))
	} else {
		logger.Info("follow-up task created", "deadline_days", policy.FollowUpDays)
	}

	return errors.Join(errs...)
}

type apiResponse struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// call invokes a REST method and returns its raw result. Empty, null and
// false results count as failures.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	endpoint := strings.TrimRight(c.cfg.WebhookURL, "/") + "/" + method + ".json"

	var result json.RawMessage
	err = c.retry.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		var ar apiResponse
		_ = json.Unmarshal(data, &ar)

		if resp.StatusCode != http.StatusOK || ar.Error != "" {
			apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Code: ar.Error, Description: ar.ErrorDescription}
			if apiErr.Description == "" && ar.Error == "" {
				apiErr.Description = strings.TrimSpace(string(data))
			}
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(apiErr)
			}
			return apiErr
		}
		switch strings.TrimSpace(string(ar.Result)) {
		case "", "null", "false":
			return retry.Permanent(&APIError{Method: method, StatusCode: resp.StatusCode, Description: "empty result"})
		}
		result = ar.Result
		return nil
	})
	return result, err
}

func (c *Client) leadComment(u Update, p Policy, now time.Time) string {
	r := u.Result
	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 MEETING ANALYSIS (%s)\n\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "🔗 Meeting link: %s\n", u.MeetingURL)
	fmt.Fprintf(&sb, "⭐ Overall score: %d/100\n", r.OverallScore)
	fmt.Fprintf(&sb, "🏷 Client category: %s\n", r.Category)
	if len(r.Criteria) > 0 {
		sb.WriteString("\n📊 DETAILED SCORES:\n")
		for _, id := range report.CriterionIDs(r.Criteria) {
			cs := r.Criteria[id]
			fmt.Fprintf(&sb, "%s. %d/10 - %s\n", id, cs.Score, cs.Comment)
		}
	}
	fmt.Fprintf(&sb, "\n💡 SUMMARY:\n%s\n", r.Summary)
	sb.WriteString("\n📝 RECOMMENDATIONS:\n")
	for _, rec := range p.Recommendations {
		fmt.Fprintf(&sb, "- %s\n", rec)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func activityDescription(u Update) string {
	return strings.Join([]string{
		"Automatic meeting analysis.",
		"",
		"Overall score: " + strconv.Itoa(u.Result.OverallScore) + "/100",
		"Client category: " + string(u.Result.Category),
		"Meeting link: " + u.MeetingURL,
		"",
		"Summary: " + u.Result.Summary,
		"",
		"The detailed report is in the lead comments.",
	}, "\n")
}

func taskDescription(u Update, p Policy) string {
	var sb strings.Builder
	sb.WriteString("Follow up the lead after the meeting analysis.\n\n")
	fmt.Fprintf(&sb, "Client category: %s\n", u.Result.Category)
	fmt.Fprintf(&sb, "Overall score: %d/100\n\n", u.Result.OverallScore)
	sb.WriteString("REQUIRED ACTIONS:\n")
	for _, a := range p.Actions {
		fmt.Fprintf(&sb, "• %s\n", a)
	}
	fmt.Fprintf(&sb, "\nMeeting summary: %s", u.Result.Summary)
	return sb.String()
}
