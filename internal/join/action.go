// Package join drives a loaded meeting page through the platform-specific
// sequence of steps that ends with the bot sitting in the call.
package join

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoMatch is returned by a Script action whose script reports that it did
// not find anything to act on.
var ErrNoMatch = errors.New("script found no matching element")

// Page is the subset of a browser tab the executor needs.
type Page interface {
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Evaluate runs script in the page and returns its boolean result.
	Evaluate(ctx context.Context, script string) (bool, error)
	GrantMediaPermissions(ctx context.Context, origin string) error
	InstallStealth(ctx context.Context) error
	Origin() string
}

// Action is one way of accomplishing a step.
type Action interface {
	Apply(ctx context.Context, p Page) error
	String() string
}

// Click waits for the element to become visible, then clicks it.
type Click struct {
	Selector string
}

func (a Click) Apply(ctx context.Context, p Page) error {
	if err := p.WaitVisible(ctx, a.Selector); err != nil {
		return err
	}
	return p.Click(ctx, a.Selector)
}

func (a Click) String() string { return "click " + a.Selector }

// Type waits for the input to become visible, then types Text into it.
type Type struct {
	Selector string
	Text     string
}

func (a Type) Apply(ctx context.Context, p Page) error {
	if err := p.WaitVisible(ctx, a.Selector); err != nil {
		return err
	}
	return p.Type(ctx, a.Selector, a.Text)
}

func (a Type) String() string { return "type " + a.Selector }

// Pause waits for a fixed delay.
type Pause struct {
	Delay time.Duration
}

func (a Pause) Apply(ctx context.Context, _ Page) error {
	t := time.NewTimer(a.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a Pause) String() string { return fmt.Sprintf("pause %s", a.Delay) }

// Script runs JavaScript that must evaluate to true on success.
type Script struct {
	Name   string
	Source string
}

func (a Script) Apply(ctx context.Context, p Page) error {
	ok, err := p.Evaluate(ctx, a.Source)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoMatch
	}
	return nil
}

func (a Script) String() string { return "script " + a.Name }
