package transcription

import (
	"context"
	"time"
)

// Transcriber sends a single audio payload to a speech-to-text service.
// Each call is independent; no context is carried between calls.
type Transcriber interface {
	Transcribe(ctx context.Context, request *Request) (*Response, error)
}

// Request represents a transcription request
type Request struct {
	Audio    []byte
	Filename string // used by the remote side to detect the container

	// Optional overrides of the client's configured defaults
	Model    string
	Language string
	Prompt   string
}

// Response represents the text returned for one payload
type Response struct {
	Text        string        `json:"text"`
	Language    string        `json:"language,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	ProcessedAt time.Time     `json:"processed_at"`
	Latency     time.Duration `json:"latency"`
}
