package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldmemo/memo-service/internal/audio"
	"github.com/fieldmemo/memo-service/internal/minutes"
	"github.com/fieldmemo/memo-service/internal/storage"
	"github.com/fieldmemo/memo-service/internal/transcription"
)

// Overall job progress at the start of each stage. Transcription progress is
// scaled into [transcribeStart, summarizeStart].
const (
	decodeStart     = 5
	transcribeStart = 10
	summarizeStart  = 80
	storeStart      = 90
)

// process runs one upload through dedupe, transcription, minutes and storage.
// It returns the ID of the resulting record and whether it already existed.
func (m *Manager) process(ctx context.Context, id string, upload Upload) (string, bool, error) {
	m.setStage(id, StatusDecoding, decodeStart, "Checking for duplicates")

	hash := storage.HashBytes(upload.Audio)

	existing, err := m.deps.Records.GetByAudioHash(ctx, hash)
	switch {
	case err == nil:
		return existing.ID, true, nil
	case !errors.Is(err, storage.ErrNotFound):
		return "", false, fmt.Errorf("dedupe lookup failed: %w", err)
	}

	m.setStage(id, StatusDecoding, decodeStart, "Preparing audio")

	filename := transcription.UploadFilename(upload.Audio, upload.Filename)
	transcript, err := m.deps.Transcriber.Transcribe(ctx, upload.Audio, filename, func(percent int, message string) {
		scaled := transcribeStart + percent*(summarizeStart-transcribeStart)/100
		m.setStage(id, StatusTranscribing, scaled, message)
	})
	if err != nil {
		return "", false, fmt.Errorf("transcription failed: %w", err)
	}

	record := &storage.Record{
		Title:      upload.Title,
		Customer:   upload.Customer,
		Language:   upload.Language,
		Transcript: transcript,
		AudioHash:  hash,
		AudioSize:  int64(len(upload.Audio)),
	}

	if m.deps.Summarizer != nil && transcript != "" {
		m.setStage(id, StatusSummarizing, summarizeStart, "Generating minutes")
		m.summarize(ctx, id, record)
	}

	if record.Title == "" {
		record.Title = "Memo " + time.Now().Format("2006-01-02 15:04")
	}

	m.setStage(id, StatusStoring, storeStart, "Saving record")

	format, _ := audio.DetectFormat(upload.Audio)
	record.AudioKey = audioKey(hash, filename)
	if err := m.deps.Objects.Put(record.AudioKey, format.ContentType(), upload.Audio); err != nil {
		return "", false, fmt.Errorf("storing audio: %w", err)
	}

	if err := m.deps.Records.Create(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateAudio) {
			// another job stored the same audio after the dedupe check
			if existing, lookupErr := m.deps.Records.GetByAudioHash(ctx, hash); lookupErr == nil {
				return existing.ID, true, nil
			}
		}
		return "", false, fmt.Errorf("storing record: %w", err)
	}

	return record.ID, false, nil
}

// summarize fills the record from generated minutes. A failure leaves the
// transcript-only record in place.
func (m *Manager) summarize(ctx context.Context, id string, record *storage.Record) {
	generated, err := m.deps.Summarizer.Generate(ctx, record.Transcript, minutes.Meta{
		Title:      record.Title,
		Customer:   record.Customer,
		Language:   record.Language,
		RecordedAt: time.Now(),
	})
	if err != nil {
		m.logger.Warn("Minutes generation failed, storing transcript only",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	record.Minutes = generated
	record.Summary = generated.Summary
	if record.Title == "" {
		record.Title = generated.Title
	}
	if record.Customer == "" {
		record.Customer = generated.Customer
	}
}

func (m *Manager) setStage(id string, status Status, percent int, message string) {
	m.update(id, func(job *Job) {
		job.Status = status
		job.Percent = max(job.Percent, percent)
		job.Message = message
	})
}

func audioKey(hash, filename string) string {
	ext := ""
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		ext = filename[i:]
	}
	return "audio/" + hash + ext
}
