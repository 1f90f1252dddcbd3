// Package transcription turns uploaded audio into text.
// It contains the speech-to-text clients (a generic multipart HTTP endpoint and an
// OpenAI-compatible one) and the Orchestrator that splits oversized recordings into
// chunks, transcribes them in bounded concurrent batches, and reassembles the text.
package transcription
