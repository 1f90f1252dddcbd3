package transcription

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible /audio/transcriptions backend
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // empty for api.openai.com
	Model    string
	Language string
	Timeout  time.Duration // 0 waits indefinitely
}

// OpenAIClient transcribes audio through the OpenAI audio API
type OpenAIClient struct {
	client   *openai.Client
	model    string
	language string
}

var _ Transcriber = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI transcription client
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		language: config.Language,
	}, nil
}

// Transcribe sends one payload to the transcription endpoint
func (c *OpenAIClient) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	if request == nil || len(request.Audio) == 0 {
		return nil, fmt.Errorf("audio payload cannot be empty")
	}

	filename := request.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	startTime := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    firstNonEmpty(request.Model, c.model),
		FilePath: filename,
		Reader:   bytes.NewReader(request.Audio),
		Prompt:   request.Prompt,
		Language: firstNonEmpty(request.Language, c.language),
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	return &Response{
		Text:        resp.Text,
		Language:    resp.Language,
		Duration:    resp.Duration,
		ProcessedAt: time.Now(),
		Latency:     time.Since(startTime),
	}, nil
}
