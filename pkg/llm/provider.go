package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyTranscript is returned when speech recognition produced no text.
var ErrEmptyTranscript = errors.New("transcription returned no text")

// Provider defines the interface for chat-completion backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Transcriber converts a recorded audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// JSONResponse asks the backend to return a single JSON object.
	JSONResponse bool
	Timeout      time.Duration
}
