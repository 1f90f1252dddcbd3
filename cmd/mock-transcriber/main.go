// Command mock-transcriber is a local stand-in for a Whisper-compatible
// transcription endpoint. It accepts the same multipart upload as the real
// API and answers with a canned transcript that names the chunk it received.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldmemo/memo-service/internal/audio"
	"github.com/fieldmemo/memo-service/internal/transcription"
)

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 500*time.Millisecond, "Simulated processing time per request")
	failEvery := flag.Int("fail-every", 0, "Answer every Nth request with 503 (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	h := &handler{logger: logger, delay: *delay, failEvery: *failEvery}

	r := mux.NewRouter()
	r.HandleFunc("/v1/audio/transcriptions", h.transcribe).Methods(http.MethodPost)
	r.HandleFunc("/transcribe", h.transcribe).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	logger.Info("Mock transcription server listening",
		slog.String("address", *addr),
		slog.Duration("delay", *delay),
	)

	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type handler struct {
	logger    *slog.Logger
	delay     time.Duration
	failEvery int

	requests atomic.Int64
}

func (h *handler) transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	n := h.requests.Add(1)
	if h.failEvery > 0 && n%int64(h.failEvery) == 0 {
		h.logger.Warn("Simulating upstream failure", slog.String("filename", header.Filename))
		http.Error(w, "simulated overload", http.StatusServiceUnavailable)
		return
	}

	var duration float64
	if decoded, err := audio.Decode(data); err == nil {
		duration = decoded.Duration
	}

	h.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("size_bytes", len(data)),
		slog.Float64("duration", duration),
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
	)

	time.Sleep(h.delay)

	text := fmt.Sprintf("Mock transcript of %s (%.1f seconds).", header.Filename, duration)

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcription.Response{
		Text:        text,
		Language:    r.FormValue("language"),
		Duration:    duration,
		ProcessedAt: time.Now().UTC(),
	})
}
