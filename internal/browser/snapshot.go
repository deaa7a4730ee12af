package browser

import (
	"context"
	"fmt"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/chromedp/chromedp"
)

const maxSnapshotChars = 4000

// Snapshot returns the current page content as markdown, truncated for logs.
// It is used to diagnose join sequences that stop matching the live page.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	if s == nil || s.tab == nil {
		return "", fmt.Errorf("session has no page")
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var html string
	if err := s.tab.run(sctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return htmlExcerpt(html)
}

func htmlExcerpt(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	n := 0
	for i := range md {
		if n == maxSnapshotChars {
			return md[:i] + "\n\n[Content truncated]", nil
		}
		n++
	}
	return md, nil
}
