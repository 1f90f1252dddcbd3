package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fieldmemo/memo-service/internal/minutes"
	"github.com/fieldmemo/memo-service/internal/storage"
)

// recordUpdate is the body of PUT /records/{id}; absent fields are left unchanged
type recordUpdate struct {
	Title      *string          `json:"title"`
	Customer   *string          `json:"customer"`
	Transcript *string          `json:"transcript"`
	Summary    *string          `json:"summary"`
	Minutes    *minutes.Minutes `json:"minutes"`
}

// photoTypes maps accepted photo content types to file extensions
var photoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// maxPhotoBytes bounds a single photo upload
const maxPhotoBytes = 20 << 20

// handleListRecords implements GET /records?q=&limit=&offset=
func (h *HTTPServer) handleListRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	var (
		records []*storage.Record
		err     error
	)
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		records, err = h.records.Search(r.Context(), q, limit)
	} else {
		records, err = h.records.List(r.Context(), limit, offset)
	}
	if err != nil {
		h.logger.Error("Failed to list records", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_records": len(records),
		"records":       records,
	})
}

// loadRecord fetches the {id} record, writing the error response on failure
func (h *HTTPServer) loadRecord(w http.ResponseWriter, r *http.Request) (*storage.Record, bool) {
	record, err := h.records.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load record", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return nil, false
	}
	return record, true
}

// handleGetRecord implements GET /records/{id}
func (h *HTTPServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleUpdateRecord implements PUT /records/{id}
func (h *HTTPServer) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var update recordUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	if update.Title != nil {
		record.Title = *update.Title
	}
	if update.Customer != nil {
		record.Customer = *update.Customer
	}
	if update.Transcript != nil {
		record.Transcript = *update.Transcript
	}
	if update.Summary != nil {
		record.Summary = *update.Summary
	}
	if update.Minutes != nil {
		record.Minutes = update.Minutes
	}

	if err := h.records.Update(r.Context(), record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		h.logger.Error("Failed to update record", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update record")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDeleteRecord implements DELETE /records/{id}, removing its objects too
func (h *HTTPServer) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	if err := h.records.Delete(r.Context(), record.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("Failed to delete record", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}

	keys := append([]string{}, record.Photos...)
	if record.AudioKey != "" {
		keys = append(keys, record.AudioKey)
	}
	for _, key := range keys {
		if err := h.objects.Delete(key); err != nil {
			h.logger.Warn("Failed to delete object of removed record",
				slog.String("record_id", record.ID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExportRecord implements GET /records/{id}/export?format=
func (h *HTTPServer) handleExportRecord(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	contentType, body, err := ExportRecord(record, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ext := map[string]string{"": "md", ExportMarkdown: "md", ExportJSON: "json", ExportText: "txt"}[format]
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.ID+"."+ext+`"`)
	w.Write(body)
}

// handleUploadPhoto implements POST /records/{id}/photos
func (h *HTTPServer) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read photo")
		return
	}
	if len(data) > maxPhotoBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "photo exceeds the size limit")
		return
	}

	contentType := http.DetectContentType(data)
	ext, accepted := photoTypes[contentType]
	if !accepted {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported photo type "+contentType)
		return
	}

	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	name := uuid.NewString() + ext
	key := photoKey(record.ID, name)
	if err := h.objects.Put(key, contentType, data); err != nil {
		h.logger.Error("Failed to store photo", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	record.Photos = append(record.Photos, key)
	if err := h.records.Update(r.Context(), record); err != nil {
		h.objects.Delete(key)
		h.logger.Error("Failed to attach photo", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to attach photo")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"photo": name,
		"key":   key,
		"url":   h.objects.SignedURL(key, h.config.Storage.GetSignedURLTTL(), time.Now()),
	})
}

// handleDeletePhoto implements DELETE /records/{id}/photos/{photo}
func (h *HTTPServer) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	key := photoKey(record.ID, mux.Vars(r)["photo"])
	i := slices.Index(record.Photos, key)
	if i < 0 {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	record.Photos = slices.Delete(record.Photos, i, i+1)
	if err := h.records.Update(r.Context(), record); err != nil {
		h.logger.Error("Failed to detach photo", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to detach photo")
		return
	}

	if err := h.objects.Delete(key); err != nil {
		h.logger.Warn("Failed to delete photo object", slog.String("key", key), slog.String("error", err.Error()))
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePhotoURL implements GET /records/{id}/photos/{photo}/url
func (h *HTTPServer) handlePhotoURL(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	key := photoKey(record.ID, mux.Vars(r)["photo"])
	if !slices.Contains(record.Photos, key) {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	h.writeSignedURL(w, key)
}

// handleAudioURL implements GET /records/{id}/audio/url
func (h *HTTPServer) handleAudioURL(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	if record.AudioKey == "" {
		writeError(w, http.StatusNotFound, "record has no audio")
		return
	}

	h.writeSignedURL(w, record.AudioKey)
}

func (h *HTTPServer) writeSignedURL(w http.ResponseWriter, key string) {
	ttl := h.config.Storage.GetSignedURLTTL()
	now := time.Now()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":        h.objects.SignedURL(key, ttl, now),
		"expires_at": now.Add(ttl).UTC().Truncate(time.Second),
	})
}

// handleGetObject implements GET /objects/{key}?expires=&sig=
func (h *HTTPServer) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	query := r.URL.Query()

	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		writeError(w, http.StatusForbidden, "missing or invalid expiry")
		return
	}

	if err := h.objects.VerifySignature(key, expires, query.Get("sig"), time.Now()); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	object, err := h.objects.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to read object", slog.String("key", key), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read object")
		return
	}

	w.Header().Set("Content-Type", object.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(object.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Disposition", `inline; filename="`+filepath.Base(key)+`"`)
	w.Write(object.Data)
}

func photoKey(recordID, name string) string {
	return "photos/" + recordID + "/" + filepath.Base(name)
}
