package browser

import (
	"context"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/user/meetbot/internal/join"
)

// stealthScript hides the most common automation fingerprints. It runs once
// per document from the new-document hook and again after the join, so it
// must be safe to evaluate twice on the same page.
const stealthScript = `(() => {
  if (window.__meetbotStealth) return true;
  const hide = (name, get) => Object.defineProperty(navigator, name, { get, configurable: true });
  hide('webdriver', () => false);
  hide('plugins', () => [1, 2, 3, 4, 5]);
  hide('languages', () => ['en-US', 'en', 'ru']);
  window.chrome = window.chrome || { runtime: {} };
  Object.defineProperty(window, '__meetbotStealth', { value: true });
  return true;
})()`

var mediaPermissions = []browser.PermissionType{
	browser.PermissionTypeAudioCapture,
	browser.PermissionTypeVideoCapture,
	browser.PermissionTypeNotifications,
}

// tab adapts a chromedp tab context to join.Page.
type tab struct {
	ctx    context.Context
	origin string
}

var _ join.Page = (*tab)(nil)

// run executes actions on the tab, aborting when either the tab or ctx ends.
// Cancelling the derived context does not close the tab.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (t *tab) WaitVisible(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (t *tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (t *tab) Type(ctx context.Context, selector, text string) error {
	return t.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (t *tab) Evaluate(ctx context.Context, script string) (bool, error) {
	var ok bool
	if err := t.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (t *tab) GrantMediaPermissions(ctx context.Context, origin string) error {
	return t.run(ctx, grantPermissions(origin))
}

func (t *tab) InstallStealth(ctx context.Context) error {
	return t.run(ctx, chromedp.Evaluate(stealthScript, nil))
}

func (t *tab) Origin() string { return t.origin }

func grantPermissions(origin string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return browser.GrantPermissions(mediaPermissions).WithOrigin(origin).Do(ctx)
	})
}

// installStealthOnNewDocument registers the shims for every document the tab loads.
func installStealthOnNewDocument() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
