package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/meetbot/pkg/llm"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Error("missing or invalid auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %q", got)
		}
		if got := r.FormValue("language"); got != "ru" {
			t.Errorf("expected language ru, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "call.wav" || len(data) == 0 {
			t.Errorf("unexpected upload %q (%d bytes)", header.Filename, len(data))
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello from the call  "})
	}))
	defer server.Close()

	tr := NewTranscriber(&llm.Config{BaseURL: server.URL + "/v1", APIKey: "key", Model: "whisper-1"}, "ru")
	text, err := tr.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello from the call" {
		t.Errorf("unexpected transcript %q", text)
	}
}

func TestTranscribeEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	defer server.Close()

	tr := NewTranscriber(&llm.Config{BaseURL: server.URL, Model: "whisper-1"}, "")
	_, err := tr.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, llm.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	tr := NewTranscriber(&llm.Config{BaseURL: "http://127.0.0.1:1"}, "")
	if _, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTranscribeTranscriberInterface(t *testing.T) {
	var _ llm.Transcriber = (*Transcriber)(nil)
}
