package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldmemo/memo-service/internal/jobs"
	"github.com/fieldmemo/memo-service/internal/minutes"
	"github.com/fieldmemo/memo-service/internal/storage"
)

var pngPhoto = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func (e *testEnv) createRecord(t *testing.T, title, customer string) *storage.Record {
	t.Helper()

	record := &storage.Record{
		Title:      title,
		Customer:   customer,
		Language:   "en",
		Transcript: "discussed the " + strings.ToLower(title),
		Summary:    "summary of " + title,
		Minutes: &minutes.Minutes{
			Title:       title,
			Summary:     "summary of " + title,
			Attendees:   []string{"Dana", "Lee"},
			ActionItems: []minutes.ActionItem{{Description: "send quote", Owner: "Dana", Due: "Friday"}},
		},
	}
	if err := e.records.Create(context.Background(), record); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return record
}

func TestListAndSearchRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createRecord(t, "Boiler service", "Acme")
	env.createRecord(t, "Roof inspection", "Globex")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/records", nil))
	var list struct {
		Total   int               `json:"total_records"`
		Records []*storage.Record `json:"records"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 2 {
		t.Fatalf("Expected 2 records, got %d", list.Total)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/records?q=globex", nil))
	decodeBody(t, rec, &list)
	if list.Total != 1 || list.Records[0].Title != "Roof inspection" {
		t.Errorf("Unexpected search result %+v", list.Records)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/records?limit=1", nil))
	decodeBody(t, rec, &list)
	if list.Total != 1 {
		t.Errorf("Expected limit to apply, got %d records", list.Total)
	}
}

func TestUpdateRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	record := env.createRecord(t, "Boiler service", "Acme")

	body := `{"title": "Boiler replacement", "summary": "replace next week"}`
	req := httptest.NewRequest(http.MethodPut, "/records/"+record.ID, strings.NewReader(body))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := env.records.Get(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Title != "Boiler replacement" || stored.Summary != "replace next week" {
		t.Errorf("Update not applied: %+v", stored)
	}
	if stored.Customer != "Acme" {
		t.Errorf("Absent field changed: customer = %q", stored.Customer)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/records/"+record.ID, strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/records/missing", strings.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDeleteRecordRemovesObjects(t *testing.T) {
	env := newTestEnv(t, nil)
	record := env.createRecord(t, "Boiler service", "Acme")

	rec := env.do(t, multipartRequest(t, "/records/"+record.ID+"/photos", "photo", "site.png", pngPhoto, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Photo upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Key string `json:"key"`
	}
	decodeBody(t, rec, &uploaded)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/records/"+record.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	if _, err := env.objects.Get(uploaded.Key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected photo object to be removed, got %v", err)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/records/"+record.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestExportRecordEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	record := env.createRecord(t, "Boiler service", "Acme")

	tests := []struct {
		format      string
		code        int
		contentType string
		contains    string
	}{
		{"", http.StatusOK, "text/markdown; charset=utf-8", "# Boiler service"},
		{"markdown", http.StatusOK, "text/markdown; charset=utf-8", "- [ ] send quote (Dana, due Friday)"},
		{"json", http.StatusOK, "application/json", `"customer": "Acme"`},
		{"text", http.StatusOK, "text/plain; charset=utf-8", "Customer: Acme"},
		{"pdf", http.StatusBadRequest, "application/json", "unsupported export format"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			target := "/records/" + record.ID + "/export?format=" + url.QueryEscape(tt.format)
			rec := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
			if rec.Code != tt.code {
				t.Fatalf("Expected %d, got %d", tt.code, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Expected content type %q, got %q", tt.contentType, ct)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %q", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestPhotoLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	record := env.createRecord(t, "Boiler service", "Acme")
	base := "/records/" + record.ID + "/photos"

	rec := env.do(t, multipartRequest(t, base, "photo", "site.png", pngPhoto, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var uploaded struct {
		Photo string `json:"photo"`
		Key   string `json:"key"`
		URL   string `json:"url"`
	}
	decodeBody(t, rec, &uploaded)
	if !strings.HasSuffix(uploaded.Photo, ".png") {
		t.Errorf("Expected .png photo name, got %q", uploaded.Photo)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, uploaded.URL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Signed download returned %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), pngPhoto) || rec.Header().Get("Content-Type") != "image/png" {
		t.Error("Downloaded photo does not match the upload")
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, base+"/"+uploaded.Photo+"/url", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Photo URL returned %d", rec.Code)
	}
	var signed struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	decodeBody(t, rec, &signed)
	if !signed.ExpiresAt.After(time.Now()) {
		t.Errorf("Expected future expiry, got %v", signed.ExpiresAt)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, base+"/"+uploaded.Photo, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Photo delete returned %d", rec.Code)
	}

	stored, err := env.records.Get(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored.Photos) != 0 {
		t.Errorf("Expected no photos, got %v", stored.Photos)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, signed.URL, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for deleted photo, got %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, base+"/"+uploaded.Photo, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for second delete, got %d", rec.Code)
	}
}

func TestPhotoUploadRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	record := env.createRecord(t, "Boiler service", "Acme")

	rec := env.do(t, multipartRequest(t, "/records/"+record.ID+"/photos", "photo", "notes.txt", []byte("plain text notes"), nil))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415, got %d", rec.Code)
	}

	rec = env.do(t, multipartRequest(t, "/records/"+record.ID+"/photos", "", "", nil, map[string]string{"caption": "x"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	rec = env.do(t, multipartRequest(t, "/records/missing/photos", "photo", "site.png", pngPhoto, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestObjectSignatureChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.objects.Put("photos/r1/a.png", "image/png", pngPhoto); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	valid := env.objects.SignedURL("photos/r1/a.png", time.Minute, time.Now())
	expired := env.objects.SignedURL("photos/r1/a.png", time.Minute, time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"valid", valid, http.StatusOK},
		{"expired", expired, http.StatusForbidden},
		{"tampered signature", strings.Replace(valid, "sig=", "sig=00", 1), http.StatusForbidden},
		{"other key", strings.Replace(valid, "a.png", "b.png", 1), http.StatusForbidden},
		{"missing expiry", "/objects/photos/r1/a.png", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestJobEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, nil)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	job, err := env.jobs.Submit(jobs.Upload{Audio: memoAudio, Filename: "visit.wav"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last jobs.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("Unexpected read error: %v", err)
			}
			break
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("Invalid event %q: %v", data, err)
		}
		if last.JobID != job.ID {
			t.Errorf("Event for wrong job: %+v", last)
		}
	}

	if last.Status != jobs.StatusCompleted || last.RecordID == "" {
		t.Errorf("Expected completed event with record ID, got %+v", last)
	}
}
