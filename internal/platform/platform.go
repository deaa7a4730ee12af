// Package platform maps meeting links to the conferencing product that hosts them.
package platform

import (
	"fmt"
	"net/url"
	"strings"
)

// Variant identifies a conferencing product family.
type Variant string

const (
	Zoom           Variant = "zoom"
	GoogleMeet     Variant = "googleMeet"
	MSTeams        Variant = "msTeams"
	YandexTelemost Variant = "yandexTelemost"
	ContourTalk    Variant = "contourTalk"
	Generic        Variant = "generic"
)

// All lists every variant, generic last.
var All = []Variant{Zoom, GoogleMeet, MSTeams, YandexTelemost, ContourTalk, Generic}

// InvalidURLError is returned when a meeting link is not an absolute http(s) URL.
type InvalidURLError struct {
	Input  string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid meeting url %q: %s", e.Input, e.Reason)
}

type rule struct {
	variant Variant
	markers []string
}

// rules is evaluated top to bottom; the first hostname match wins.
var rules = []rule{
	{Zoom, []string{"zoom"}},
	{GoogleMeet, []string{"meet.google"}},
	{MSTeams, []string{"teams.microsoft", "teams.live.com"}},
	{YandexTelemost, []string{"telemost.yandex"}},
	{ContourTalk, []string{"talk.contour.ru"}},
}

// Classify returns the variant for a meeting link. Unknown hosts map to Generic.
func Classify(raw string) (Variant, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(host, m) {
				return r.variant, nil
			}
		}
	}
	return Generic, nil
}

// Parse validates raw as an absolute http(s) URL with a host.
func Parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &InvalidURLError{Input: raw, Reason: "empty"}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &InvalidURLError{Input: raw, Reason: err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return nil, &InvalidURLError{Input: raw, Reason: "missing scheme"}
	default:
		return nil, &InvalidURLError{Input: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Hostname() == "" {
		return nil, &InvalidURLError{Input: raw, Reason: "missing host"}
	}
	return u, nil
}

// Origin returns scheme://host[:port] for a valid meeting link.
func Origin(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

// Normalize cleans up links pasted into chat: surrounding brackets are stripped
// and https:// is prepended when no scheme is present.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.Trim(s, "<>")
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	return s
}
