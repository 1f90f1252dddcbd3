package storage

import (
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

// HashAudio returns the hex BLAKE3-256 digest used to deduplicate uploads
func HashAudio(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes is HashAudio for in-memory data
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
