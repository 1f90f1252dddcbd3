package transcription

import (
	"errors"
	"fmt"
)

// ErrTranscriptionFailed matches every *ChunkError
var ErrTranscriptionFailed = errors.New("transcription failed")

// ChunkError reports the remote call that aborted a transcription.
// Index is -1 when the audio was sent whole.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("transcription failed: %v", e.Err)
	}
	return fmt.Sprintf("transcription failed on chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func (e *ChunkError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}

// HTTPError is a non-2xx response from the transcription endpoint
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}
