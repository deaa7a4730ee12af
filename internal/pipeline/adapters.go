package pipeline

import (
	"context"

	"github.com/user/meetbot/internal/browser"
	"github.com/user/meetbot/internal/recording"
)

// FromDriver adapts a browser.Driver to SessionOpener.
func FromDriver(d *browser.Driver) SessionOpener { return driverOpener{d} }

type driverOpener struct{ d *browser.Driver }

func (o driverOpener) Open(ctx context.Context, meetingURL string) (Session, error) {
	s, err := o.d.Open(ctx, meetingURL)
	if s == nil {
		return nil, err
	}
	return driverSession{s}, err
}

type driverSession struct{ *browser.Session }

func (s driverSession) Warnings() []string {
	if s.Report == nil {
		return nil
	}
	return s.Report.Warnings
}

// FromController adapts a recording.Controller to Recorder.
func FromController(c *recording.Controller) Recorder { return controllerRecorder{c} }

type controllerRecorder struct{ c *recording.Controller }

func (r controllerRecorder) Start(ctx context.Context) (Recording, error) {
	h, err := r.c.Start(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}
