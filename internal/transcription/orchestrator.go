package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldmemo/memo-service/internal/audio"
	"github.com/fieldmemo/memo-service/internal/metrics"
)

// Default orchestration parameters.
const (
	// DefaultSizeThresholdBytes is the remote service's upload limit; larger
	// uploads are split.
	DefaultSizeThresholdBytes = 25 * 1024 * 1024

	// DefaultBatchSize bounds the number of chunk requests in flight at once.
	DefaultBatchSize = 10
)

// ProgressFunc receives transcription progress. Calls are serialized.
type ProgressFunc func(percent int, message string)

// OrchestratorConfig contains configuration for chunked transcription
type OrchestratorConfig struct {
	SizeThresholdBytes int64
	BatchSize          int
	Chunking           audio.ChunkingConfig
}

// DefaultOrchestratorConfig returns the reference thresholds
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SizeThresholdBytes: DefaultSizeThresholdBytes,
		BatchSize:          DefaultBatchSize,
		Chunking:           audio.DefaultChunkingConfig(),
	}
}

// Orchestrator transcribes uploads of any size. Uploads over the size threshold
// are decoded, split into WAV chunks and transcribed in concurrent batches.
type Orchestrator struct {
	transcriber Transcriber
	config      OrchestratorConfig
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewOrchestrator creates an orchestrator around a single-payload transcriber
func NewOrchestrator(transcriber Transcriber, config OrchestratorConfig, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if config.SizeThresholdBytes <= 0 {
		return nil, fmt.Errorf("size threshold must be positive, got %d", config.SizeThresholdBytes)
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		transcriber: transcriber,
		config:      config,
		logger:      logger,
		metrics:     m,
	}, nil
}

// Config returns the orchestrator configuration
func (o *Orchestrator) Config() OrchestratorConfig {
	return o.config
}

// Transcribe returns the full transcript of data, or an error. It never returns
// a partial transcript.
//
// Uploads up to the size threshold are sent as a single request. Larger uploads
// are decoded (failing with *audio.DecodeError), split, and dispatched in
// batches; batch k+1 starts only after every request of batch k has resolved.
// A failed chunk aborts the call with a *ChunkError.
//
// Requests already in flight are not cancelled when ctx is done; ctx is checked
// before each batch.
func (o *Orchestrator) Transcribe(ctx context.Context, data []byte, filename string, progress ProgressFunc) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("audio cannot be empty")
	}

	if progress == nil {
		progress = func(int, string) {}
	}

	split := int64(len(data)) > o.config.SizeThresholdBytes
	o.metrics.RecordUpload(len(data), split)

	if !split {
		return o.transcribeWhole(ctx, data, filename, progress)
	}

	chunks, err := o.prepareChunks(data)
	if err != nil {
		return "", err
	}

	return o.transcribeChunks(ctx, chunks, progress)
}

func (o *Orchestrator) transcribeWhole(ctx context.Context, data []byte, filename string, progress ProgressFunc) (string, error) {
	o.logger.Debug("Transcribing upload in a single request",
		slog.Int("size_bytes", len(data)),
		slog.String("filename", filename),
	)

	text, err := o.send(context.WithoutCancel(ctx), &Request{Audio: data, Filename: filename})
	if err != nil {
		return "", &ChunkError{Index: -1, Err: err}
	}

	progress(100, "Transcribed 1/1")

	return strings.TrimSpace(text), nil
}

// prepareChunks decodes, plans and encodes an oversized upload
func (o *Orchestrator) prepareChunks(data []byte) ([]audio.AudioChunk, error) {
	startTime := time.Now()

	decoded, err := audio.Decode(data)
	if err != nil {
		o.metrics.RecordDecodeFailure()
		o.logger.Warn("Failed to decode oversized upload",
			slog.Int("size_bytes", len(data)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	chunks, err := audio.Split(decoded, int64(len(data)), o.config.Chunking)
	if err != nil {
		return nil, fmt.Errorf("failed to split audio: %w", err)
	}

	for _, chunk := range chunks {
		o.metrics.RecordChunkGenerated(chunk.Duration, len(chunk.Payload))
	}
	o.metrics.RecordDecode(time.Since(startTime).Seconds())

	o.logger.Info("Split oversized upload into chunks",
		slog.Int("size_bytes", len(data)),
		slog.Float64("duration_seconds", decoded.Duration),
		slog.Int("sample_rate", decoded.SampleRate),
		slog.Int("channels", decoded.NumChannels()),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return chunks, nil
}

// transcribeChunks dispatches chunks in batches and joins the results in index order
func (o *Orchestrator) transcribeChunks(ctx context.Context, chunks []audio.AudioChunk, progress ProgressFunc) (string, error) {
	total := len(chunks)
	results := make([]string, total) // slot i is written only by chunk i's request
	callCtx := context.WithoutCancel(ctx)

	var (
		mu        sync.Mutex
		completed int
	)

	for start := 0; start < total; start += o.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		end := min(start+o.config.BatchSize, total)
		batch := chunks[start:end]
		errs := make([]error, len(batch))

		var g errgroup.Group
		for i, chunk := range batch {
			g.Go(func() error {
				text, err := o.send(callCtx, &Request{
					Audio:    chunk.Payload,
					Filename: fmt.Sprintf("chunk_%03d.wav", chunk.Index),
				})
				if err != nil {
					errs[i] = err
					return err
				}

				results[chunk.Index] = text
				chunks[chunk.Index].Payload = nil

				mu.Lock()
				completed++
				progress(completed*100/total, fmt.Sprintf("Transcribed %d/%d", completed, total))
				mu.Unlock()

				return nil
			})
		}

		// batch barrier
		if err := g.Wait(); err != nil {
			for i, chunkErr := range errs {
				if chunkErr != nil {
					o.logger.Error("Chunk transcription failed",
						slog.Int("chunk", batch[i].Index),
						slog.Int("chunks", total),
						slog.String("error", chunkErr.Error()),
					)
					return "", &ChunkError{Index: batch[i].Index, Err: chunkErr}
				}
			}
		}

		o.logger.Debug("Transcription batch complete",
			slog.Int("first_chunk", start),
			slog.Int("last_chunk", end-1),
			slog.Int("chunks", total),
		)
	}

	return JoinTranscripts(results), nil
}

// send performs one remote call and records its metrics
func (o *Orchestrator) send(ctx context.Context, request *Request) (string, error) {
	startTime := time.Now()
	o.metrics.RecordTranscriptionRequest()

	resp, err := o.transcriber.Transcribe(ctx, request)
	if err != nil {
		o.metrics.RecordTranscriptionFailure(time.Since(startTime).Seconds())
		return "", err
	}

	o.metrics.RecordTranscriptionSuccess(time.Since(startTime).Seconds())
	return resp.Text, nil
}

// JoinTranscripts trims each part and joins them with single spaces, in order
func JoinTranscripts(parts []string) string {
	trimmed := make([]string, len(parts))
	for i, part := range parts {
		trimmed[i] = strings.TrimSpace(part)
	}
	return strings.TrimSpace(strings.Join(trimmed, " "))
}

// UploadFilename picks a filename for a direct upload, preferring the sniffed container
func UploadFilename(data []byte, original string) string {
	if format, ok := audio.DetectFormat(data); ok {
		base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
		if base == "" || base == "." || base == string(filepath.Separator) {
			base = "audio"
		}
		return base + "." + string(format)
	}
	if original != "" {
		return filepath.Base(original)
	}
	return "audio"
}
