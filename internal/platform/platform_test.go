package platform

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want Variant
	}{
		{"https://us02web.zoom.us/j/123", Zoom},
		{"https://ZOOM.US/j/1?pwd=x", Zoom},
		{"https://meet.google.com/abc-defg-hij", GoogleMeet},
		{"https://teams.microsoft.com/l/meetup-join/x", MSTeams},
		{"https://teams.live.com/meet/123", MSTeams},
		{"https://telemost.yandex.ru/j/123", YandexTelemost},
		{"https://talk.contour.ru/room/1", ContourTalk},
		{"https://example.org/room", Generic},
		{"http://localhost:8080/meet", Generic},
	}
	for _, tt := range tests {
		got, err := Classify(tt.url)
		if err != nil {
			t.Errorf("Classify(%q) error: %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	const u = "https://meet.google.com/abc"
	first, _ := Classify(u)
	for i := 0; i < 10; i++ {
		if got, _ := Classify(u); got != first {
			t.Fatalf("expected stable result %s, got %s", first, got)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// both markers present; zoom precedes meet.google in the table
	got, err := Classify("https://zoom.meet.google.com/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != Zoom {
		t.Errorf("expected zoom, got %s", got)
	}
}

func TestClassifyInvalid(t *testing.T) {
	for _, in := range []string{"", "not-a-url", "ftp://zoom.us/j/1", "https://", "mailto:a@b.c"} {
		_, err := Classify(in)
		var invalid *InvalidURLError
		if !errors.As(err, &invalid) {
			t.Errorf("Classify(%q): expected InvalidURLError, got %v", in, err)
		}
	}
}

func TestOrigin(t *testing.T) {
	got, err := Origin("https://meet.google.com:443/abc?x=1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://meet.google.com:443" {
		t.Errorf("unexpected origin %q", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"[https://zoom.us/j/1]": "https://zoom.us/j/1",
		"meet.google.com/abc":   "https://meet.google.com/abc",
		"  http://x.org  ":      "http://x.org",
		"<https://a.b>":         "https://a.b",
		"":                      "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
