package audio

import (
	"fmt"
)

// Default chunking parameters.
const (
	// DefaultTargetChunkBytes leaves headroom under a 25 MiB upload limit for
	// re-encoding overhead.
	DefaultTargetChunkBytes = 20 * 1024 * 1024
	DefaultMinChunkSeconds  = 30.0
	DefaultMaxChunkSeconds  = 600.0
)

// AudioChunk is one independently transcribable slice of a recording
type AudioChunk struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
	Payload   []byte  `json:"-"` // WAV encoded
}

// EndTime returns the chunk end in seconds
func (c AudioChunk) EndTime() float64 {
	return c.StartTime + c.Duration
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	TargetChunkBytes int64
	MinChunkSeconds  float64
	MaxChunkSeconds  float64
}

// DefaultChunkingConfig returns the reference chunking parameters
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		TargetChunkBytes: DefaultTargetChunkBytes,
		MinChunkSeconds:  DefaultMinChunkSeconds,
		MaxChunkSeconds:  DefaultMaxChunkSeconds,
	}
}

// Split plans a and encodes every interval, in plan order. originalSize is the
// byte size of the compressed source a was decoded from.
func Split(a *DecodedAudio, originalSize int64, cfg ChunkingConfig) ([]AudioChunk, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no decoded audio", ErrInvalidInput)
	}

	plan, err := Plan(a.Duration, originalSize, cfg.TargetChunkBytes, cfg.MinChunkSeconds, cfg.MaxChunkSeconds)
	if err != nil {
		return nil, err
	}

	chunks := make([]AudioChunk, 0, len(plan))
	for i, interval := range plan {
		payload, err := EncodeChunk(a, interval.Start, interval.End)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk %d: %w", i, err)
		}

		chunks = append(chunks, AudioChunk{
			Index:     i,
			StartTime: interval.Start,
			Duration:  interval.Duration(),
			Payload:   payload,
		})
	}

	return chunks, nil
}
