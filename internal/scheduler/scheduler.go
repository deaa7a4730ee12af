// Package scheduler joins recurring meetings on their cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/meetbot/internal/state"
)

// Handler is invoked with a copy of the meeting each time its schedule fires.
type Handler func(m state.Meeting)

// Scheduler evaluates cron expressions from the meeting store and hands due
// meetings to a handler, normally one that submits them to the gateway.
type Scheduler struct {
	store   *state.MeetingStore
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Next returns the first activation of expr after from.
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// New creates a Scheduler backed by the given meeting store.
func New(store *state.MeetingStore, handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads meetings from the store, registers the enabled ones that have
// a schedule, and starts the cron ticker. Entries with a bad expression are
// logged and skipped.
func (s *Scheduler) Start() error {
	meetings, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range meetings {
		if m.Schedule == "" || !m.Enabled {
			continue
		}
		meeting := *m
		_, err := s.cron.AddFunc(meeting.Schedule, func() {
			s.logger.Info("cron firing meeting", "name", meeting.Name, "url", meeting.MeetingURL)
			s.handler(meeting)
		})
		if err != nil {
			s.logger.Error("invalid cron schedule", "name", meeting.Name, "schedule", meeting.Schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled meeting", "name", meeting.Name, "schedule", meeting.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload drops all entries and registers the store's meetings again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker. Handlers already running are not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
