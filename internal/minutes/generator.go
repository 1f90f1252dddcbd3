package minutes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/fieldmemo/memo-service/internal/metrics"
)

// ErrEmptyTranscript is returned when there is nothing to summarize
var ErrEmptyTranscript = errors.New("transcript is empty")

// systemPrompt instructs the model to answer with a single JSON object
const systemPrompt = `You are an assistant for field sales representatives.
You receive the transcript of a customer meeting and write structured meeting minutes.
Answer in the language of the transcript with a single JSON object of the form:
{"title": string, "summary": string, "customer": string, "attendees": [string],
 "key_points": [string], "action_items": [{"description": string, "owner": string, "due": string}],
 "next_steps": string}
Use empty strings or empty arrays for anything the transcript does not mention.`

// Minutes holds structured meeting minutes
type Minutes struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary"`
	Customer    string       `json:"customer"`
	Attendees   []string     `json:"attendees"`
	KeyPoints   []string     `json:"key_points"`
	ActionItems []ActionItem `json:"action_items"`
	NextSteps   string       `json:"next_steps"`
}

// ActionItem is a follow-up task agreed in the meeting
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	Due         string `json:"due,omitempty"`
}

// Meta carries what the uploader already knows about the meeting
type Meta struct {
	Title      string
	Customer   string
	Language   string
	RecordedAt time.Time
}

// Config configures the chat-completion backend
type Config struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
	Model   string
	Timeout time.Duration
}

// Generator turns transcripts into meeting minutes
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGenerator creates a minutes generator
func NewGenerator(config Config, logger *slog.Logger, m *metrics.Metrics) (*Generator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Generator{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   config.Model,
		timeout: config.Timeout,
		logger:  logger,
		metrics: m,
	}, nil
}

// Generate asks the model for minutes of the given transcript
func (g *Generator) Generate(ctx context.Context, transcript string, meta Meta) (*Minutes, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	startTime := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(transcript, meta)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		g.metrics.RecordMinutes("error")
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		g.metrics.RecordMinutes("error")
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	minutes, err := Parse(resp.Choices[0].Message.Content)
	if err != nil {
		g.metrics.RecordMinutes("invalid")
		return nil, err
	}

	if minutes.Title == "" {
		minutes.Title = meta.Title
	}
	if minutes.Customer == "" {
		minutes.Customer = meta.Customer
	}

	g.metrics.RecordMinutes("success")
	g.logger.Debug("Generated minutes",
		slog.String("model", g.model),
		slog.Int("transcript_chars", len(transcript)),
		slog.Int("action_items", len(minutes.ActionItems)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return minutes, nil
}

// Parse decodes a model answer, tolerating a surrounding markdown code fence
func Parse(content string) (*Minutes, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var minutes Minutes
	if err := json.Unmarshal([]byte(content), &minutes); err != nil {
		return nil, fmt.Errorf("failed to parse minutes JSON: %w", err)
	}

	return &minutes, nil
}

func userMessage(transcript string, meta Meta) string {
	var b strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", meta.Title)
	}
	if meta.Customer != "" {
		fmt.Fprintf(&b, "Customer: %s\n", meta.Customer)
	}
	if meta.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", meta.Language)
	}
	if !meta.RecordedAt.IsZero() {
		fmt.Fprintf(&b, "Recorded at: %s\n", meta.RecordedAt.Format(time.RFC3339))
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}
