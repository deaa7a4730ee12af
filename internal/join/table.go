package join

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/meetbot/internal/platform"
)

// DefaultDisplayName is the participant name typed into name prompts.
const DefaultDisplayName = "Meeting Bot"

// Step is one named stage of a join sequence. Candidates are tried in order
// until one succeeds; each attempt is bounded by Timeout.
type Step struct {
	Name       string
	Candidates []Action
	Required   bool
	Timeout    time.Duration
}

// Table maps every variant to its ordered steps.
type Table map[platform.Variant][]Step

const (
	optionalStepTimeout = 3 * time.Second
	inputTimeout        = 5 * time.Second
	launchTimeout       = 10 * time.Second
)

func clicks(selectors ...string) []Action {
	out := make([]Action, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, Click{Selector: s})
	}
	return out
}

func wait(name string, d time.Duration) Step {
	return Step{Name: name, Candidates: []Action{Pause{Delay: d}}, Timeout: d + time.Second}
}

// textButtonScript clicks the first element matched by query whose text,
// value or title matches pattern. It evaluates to false when nothing matched.
func textButtonScript(query, pattern string) string {
	return fmt.Sprintf(`(() => {
  const re = new RegExp(%q, 'i');
  const el = Array.from(document.querySelectorAll(%q)).find(b =>
    (b.textContent && re.test(b.textContent)) ||
    (b.value && re.test(b.value)) ||
    (b.title && re.test(b.title)));
  if (!el) return false;
  el.click();
  return true;
})()`, pattern, query)
}

// toggleOffScript clicks the first element matching query unless its
// aria-pressed attribute already equals offState. It is false when no element exists.
func toggleOffScript(query, offState string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  if (el.getAttribute('aria-pressed') !== %q) el.click();
  return true;
})()`, query, offState)
}

// DefaultTable returns the built-in join sequences. displayName is typed into
// participant name prompts; empty means DefaultDisplayName.
func DefaultTable(displayName string) Table {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = DefaultDisplayName
	}

	return Table{
		platform.Zoom: {
			{Name: "open-browser-client", Candidates: clicks(`a[href*="wc/join"]`), Timeout: launchTimeout},
			wait("browser-client-load", 3*time.Second),
			{Name: "enter-name", Candidates: []Action{Type{Selector: "#inputname", Text: name}}, Timeout: inputTimeout},
			{
				Name: "join",
				Candidates: append(clicks(
					`button[type="submit"]`,
					`input[value*="Join"]`,
					`.join-dialog button`,
					`[data-testid="join-button"]`,
				), Script{Name: "join-by-text", Source: textButtonScript(`button, input[type="submit"], a`, "join|войти|присоединиться")}),
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 8*time.Second),
			{Name: "mute-microphone", Candidates: clicks(`button[aria-label*="Mute"]`, `button[aria-label*="mute"]`), Timeout: inputTimeout},
			{Name: "disable-camera", Candidates: clicks(`button[aria-label*="camera"]`, `button[aria-label*="video"]`), Timeout: inputTimeout},
		},
		platform.GoogleMeet: {
			{Name: "mute-microphone", Candidates: []Action{
				Script{Name: "mic-toggle", Source: toggleOffScript(`[data-testid="mic-button"], [aria-label*="microphone"]`, "true")},
			}, Timeout: inputTimeout},
			{Name: "disable-camera", Candidates: []Action{
				Script{Name: "camera-toggle", Source: toggleOffScript(`[data-testid="camera-button"], [aria-label*="camera"]`, "false")},
			}, Timeout: inputTimeout},
			{
				Name: "join",
				Candidates: append(clicks(
					`[data-testid="join-button"]`,
					`button[jsname="Qx7uuf"]`,
					`[aria-label*="Join"]`,
				), Script{Name: "join-by-text", Source: textButtonScript("button", "join|присоединиться")}),
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 8*time.Second),
		},
		platform.MSTeams: {
			{Name: "open-web-client", Candidates: clicks(`a[href*="launcher/launcher.html"]`), Timeout: launchTimeout},
			wait("web-client-load", 3*time.Second),
			{Name: "enter-name", Candidates: []Action{Type{Selector: "#displayName", Text: name}}, Timeout: inputTimeout},
			{Name: "mute-microphone", Candidates: clicks(`[data-tid="toggle-mute"]`), Timeout: optionalStepTimeout},
			{Name: "disable-camera", Candidates: clicks(`[data-tid="toggle-video"]`), Timeout: optionalStepTimeout},
			{
				Name: "join",
				Candidates: append(clicks(
					`[data-tid="prejoin-join-button"]`,
					`button[aria-label*="Join now"]`,
				), Script{Name: "join-by-text", Source: textButtonScript("button", "join now|присоединиться")}),
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 8*time.Second),
		},
		platform.YandexTelemost: {
			{Name: "enter-name", Candidates: []Action{
				Type{Selector: `input[placeholder*="имя"]`, Text: name},
				Type{Selector: `input[placeholder*="name"]`, Text: name},
			}, Timeout: inputTimeout},
			{
				Name: "join",
				Candidates: []Action{
					Script{Name: "join-by-text", Source: textButtonScript("button", "войти|присоединиться")},
					Click{Selector: `button[type="submit"]`},
					Click{Selector: ".join-button"},
				},
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 8*time.Second),
			{Name: "mute-microphone", Candidates: clicks(`[title*="микрофон"]`, `[aria-label*="микрофон"]`), Timeout: inputTimeout},
		},
		platform.ContourTalk: {
			{Name: "enter-name", Candidates: []Action{
				Type{Selector: `input[name="name"]`, Text: name},
				Type{Selector: `input[placeholder*="имя"]`, Text: name},
			}, Timeout: inputTimeout},
			{
				Name: "join",
				Candidates: []Action{
					Script{Name: "join-by-text", Source: textButtonScript("button", "войти в конференцию|войти|присоединиться")},
					Click{Selector: `button[type="submit"]`},
				},
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 10*time.Second),
		},
		platform.Generic: {
			{
				Name: "join",
				Candidates: append(clicks(
					`button[data-join="true"]`,
					`button[aria-label*="Join"]`,
					`button[aria-label*="join"]`,
					`button[aria-label*="Присоединиться"]`,
					`button[title*="Join"]`,
					`button[title*="Присоединиться"]`,
					`input[value*="Join"]`,
					`input[value*="Войти"]`,
				), Script{Name: "join-by-text", Source: textButtonScript(`button, input, a, div[role="button"]`, "join|присоединиться|войти")}),
				Required: true,
				Timeout:  optionalStepTimeout,
			},
			wait("admission", 8*time.Second),
		},
	}
}
