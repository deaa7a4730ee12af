// Package webhook is the HTTP front door: synchronous meeting processing,
// job listing and stop, named scheduled meetings, health and metrics.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/meetbot/internal/gateway"
	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/state"
	"github.com/user/meetbot/internal/types"
)

// Jobs is the part of the gateway the server drives.
type Jobs interface {
	Submit(req types.MeetingRequest, opts ...gateway.JobOption) (*gateway.Job, error)
	Process(ctx context.Context, req types.MeetingRequest) (*pipeline.Result, error)
	StopJob(id types.JobID) error
	Jobs() []gateway.JobInfo
}

// Server is the HTTP handler for the bot's endpoints.
type Server struct {
	jobs     Jobs
	meetings *state.MeetingStore
	journal  types.JobJournal
	metrics  http.Handler
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithMeetings enables POST /webhook/{name}.
func WithMeetings(store *state.MeetingStore) Option { return func(s *Server) { s.meetings = store } }

// WithJournal adds recently settled jobs to GET /api/jobs.
func WithJournal(j types.JobJournal) Option { return func(s *Server) { s.journal = j } }

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// NewServer creates a Server in front of jobs.
func NewServer(jobs Jobs, opts ...Option) *Server {
	s := &Server{
		jobs:   jobs,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /process-meeting", s.handleProcessMeeting)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("POST /api/jobs/{id}/stop", s.handleStopJob)
	s.mux.HandleFunc("POST /webhook/{name}", s.handleNamedMeeting)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// processRequest is the JSON body for POST /process-meeting.
type processRequest struct {
	MeetingURL string `json:"meetingUrl"`
	LeadID     string `json:"leadId"`
}

type processResponse struct {
	Success          bool                  `json:"success"`
	MeetingURL       string                `json:"meetingUrl"`
	LeadID           string                `json:"leadId,omitempty"`
	JobID            types.JobID           `json:"jobId,omitempty"`
	TranscriptLength int                   `json:"transcriptLength,omitempty"`
	Analysis         *types.AnalysisResult `json:"analysis,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	Stage            string                `json:"stage,omitempty"`
	Error            string                `json:"error,omitempty"`
}

func (s *Server) handleProcessMeeting(w http.ResponseWriter, r *http.Request) {
	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(body.MeetingURL) == "" {
		writeError(w, http.StatusBadRequest, "meetingUrl is required")
		return
	}

	req := types.MeetingRequest{
		URL:           strings.TrimSpace(body.MeetingURL),
		CorrelationID: strings.TrimSpace(body.LeadID),
		RequestedAt:   time.Now(),
		Source:        "http",
	}
	s.logger.Info("meeting processing request received", "url", req.URL, "lead_id", req.CorrelationID)

	res, err := s.jobs.Process(r.Context(), req)
	resp := processResponse{MeetingURL: req.URL, LeadID: req.CorrelationID}
	if res != nil {
		resp.JobID = res.JobID
		resp.Warnings = res.Warnings
	}

	var invalid *platform.InvalidURLError
	var stageErr *pipeline.StageError
	switch {
	case err == nil:
		resp.Success = true
		resp.TranscriptLength = len([]rune(res.Transcript))
		resp.Analysis = res.Analysis
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &invalid):
		resp.Stage = string(pipeline.StateIdle)
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, gateway.ErrQueueStopped):
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.As(err, &stageErr):
		resp.Stage = string(stageErr.Stage)
		resp.Error = stageErr.Err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		// client went away or the queue rejected the job
		s.logger.Warn("meeting processing not completed", "url", req.URL, "error", err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

type jobsResponse struct {
	Active []gateway.JobInfo   `json:"active"`
	Recent []*types.JobRecord `json:"recent"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	resp := jobsResponse{Active: s.jobs.Jobs(), Recent: []*types.JobRecord{}}

	if s.journal != nil {
		limit := 20
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		recent, err := s.journal.Tail(r.Context(), limit)
		if err != nil {
			s.logger.Error("tail journal failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if recent != nil {
			resp.Recent = recent
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(r.PathValue("id"))
	if err := s.jobs.StopJob(id); err != nil {
		if errors.Is(err, gateway.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "id": string(id)})
}

// handleNamedMeeting queues a stored meeting immediately, regardless of its
// schedule. The request returns once the job is queued.
func (s *Server) handleNamedMeeting(w http.ResponseWriter, r *http.Request) {
	if s.meetings == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduled meetings not configured")
		return
	}
	name := r.PathValue("name")
	m, err := s.meetings.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "meeting not found")
		return
	}
	if !m.Enabled {
		writeError(w, http.StatusForbidden, "meeting is disabled")
		return
	}

	job, err := s.jobs.Submit(types.MeetingRequest{
		URL:           m.MeetingURL,
		CorrelationID: m.CorrelationID,
		RequestedAt:   time.Now(),
		Source:        "webhook:" + m.Name,
		ReplyTo:       types.ChannelKey(m.ReplyTo),
	})
	if err != nil {
		var invalid *platform.InvalidURLError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("named meeting not queued", "name", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": string(job.ID)})
}
