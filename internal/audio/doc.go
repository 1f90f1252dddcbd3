// Package audio handles decoding, chunk planning, and WAV encoding of voice memos.
// It turns an oversized recording into time-aligned PCM chunks that each fit under
// the transcription endpoint's upload limit and can be transcribed independently.
package audio
