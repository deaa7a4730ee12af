package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/meetbot/pkg/llm"
)

// Transcriber implements llm.Transcriber against the OpenAI-compatible
// /audio/transcriptions endpoint.
type Transcriber struct {
	client   *Client
	language string
}

// NewTranscriber creates a Transcriber. config.Model names the speech model
// (for example "whisper-1"); language is an optional ISO-639-1 hint.
func NewTranscriber(config *llm.Config, language string) *Transcriber {
	return &Transcriber{client: New(config), language: language}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio file and returns the recognised text. An empty
// result is reported as llm.ErrEmptyTranscript.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	fields := map[string]string{
		"model":           t.client.config.Model,
		"response_format": "json",
	}
	if t.language != "" {
		fields["language"] = t.language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	url := t.client.config.BaseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.client.config.APIKey)

	body, err := t.client.do(req)
	if err != nil {
		return "", err
	}

	var resp transcriptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", llm.ErrEmptyTranscript
	}
	return text, nil
}
