package audio

import (
	"fmt"
	"math"
)

// Interval is a half-open time range [Start, End) in seconds
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the interval length in seconds
func (i Interval) Duration() float64 {
	return i.End - i.Start
}

// ChunkPlan is an ascending, gap-free cover of [0, totalDuration]
type ChunkPlan []Interval

// Plan splits totalDuration seconds of audio into intervals whose estimated
// encoded size stays under targetChunkBytes.
//
// The source bitrate is estimated as originalByteSize/totalDuration, which
// assumes a uniform byte density across the recording. Variable-bitrate
// sources can therefore be over- or under-sized relative to the target.
func Plan(totalDuration float64, originalByteSize, targetChunkBytes int64, minChunkSeconds, maxChunkSeconds float64) (ChunkPlan, error) {
	if totalDuration <= 0 || math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) {
		return nil, fmt.Errorf("%w: total duration must be positive, got %f", ErrInvalidInput, totalDuration)
	}
	if originalByteSize <= 0 {
		return nil, fmt.Errorf("%w: original byte size must be positive, got %d", ErrInvalidInput, originalByteSize)
	}
	if targetChunkBytes <= 0 {
		return nil, fmt.Errorf("%w: target chunk bytes must be positive, got %d", ErrInvalidInput, targetChunkBytes)
	}
	if minChunkSeconds <= 0 || maxChunkSeconds <= 0 {
		return nil, fmt.Errorf("%w: chunk duration bounds must be positive, got [%f, %f]",
			ErrInvalidInput, minChunkSeconds, maxChunkSeconds)
	}
	if minChunkSeconds > maxChunkSeconds {
		return nil, fmt.Errorf("%w: min chunk duration %f exceeds max %f",
			ErrInvalidInput, minChunkSeconds, maxChunkSeconds)
	}

	chunkSeconds := TargetChunkSeconds(totalDuration, originalByteSize, targetChunkBytes)
	chunkSeconds = math.Max(minChunkSeconds, math.Min(maxChunkSeconds, chunkSeconds))

	count := int(math.Ceil(totalDuration / chunkSeconds))
	if count < 1 {
		count = 1
	}

	plan := make(ChunkPlan, 0, count)
	start := 0.0
	for i := 0; i < count; i++ {
		end := math.Min(start+chunkSeconds, totalDuration)
		if i == count-1 {
			end = totalDuration
		}
		plan = append(plan, Interval{Start: start, End: end})
		start = end
	}

	return plan, nil
}

// TargetChunkSeconds returns the unclamped chunk duration, floored to whole seconds.
// targetChunkBytes / (originalByteSize / totalDuration) is evaluated as a single
// product and quotient so exact inputs stay exact.
func TargetChunkSeconds(totalDuration float64, originalByteSize, targetChunkBytes int64) float64 {
	return math.Floor(float64(targetChunkBytes) * totalDuration / float64(originalByteSize))
}
