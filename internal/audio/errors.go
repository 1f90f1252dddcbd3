package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned when chunk planning parameters are out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidRange is returned when a time range does not map to a non-empty sample window.
	ErrInvalidRange = errors.New("invalid range")

	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("audio decode failed")
)

// DecodeError reports audio bytes that could not be decoded into samples
type DecodeError struct {
	Format Format // empty when the container was not recognized
	Err    error
}

func (e *DecodeError) Error() string {
	supported := make([]string, 0, len(SupportedFormats))
	for _, f := range SupportedFormats {
		supported = append(supported, string(f))
	}

	msg := "unrecognized audio format"
	if e.Format != "" {
		msg = fmt.Sprintf("corrupt %s audio", e.Format)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return fmt.Sprintf("%s (supported formats: %s)", msg, strings.Join(supported, ", "))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
