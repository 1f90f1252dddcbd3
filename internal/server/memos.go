package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fieldmemo/memo-service/internal/jobs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk
const multipartMemory = 32 << 20

// handleCreateMemo implements POST /memos
func (h *HTTPServer) handleCreateMemo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio file")
		return
	}

	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	job, err := h.jobs.Submit(jobs.Upload{
		Audio:    data,
		Filename: header.Filename,
		Title:    r.FormValue("title"),
		Customer: r.FormValue("customer"),
		Language: r.FormValue("language"),
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
		"size":   len(data),
	})
}

// handleListJobs implements GET /jobs
func (h *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.jobs.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_jobs": len(list),
		"jobs":       list,
	})
}

// handleGetJob implements GET /jobs/{id}
func (h *HTTPServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := h.jobs.Get(mux.Vars(r)["id"])
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleJobEvents streams job events over a websocket until the job finishes
func (h *HTTPServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, cancel, err := h.jobs.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// the read loop processes control frames and notices the client leaving
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return

		case event, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}

			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
