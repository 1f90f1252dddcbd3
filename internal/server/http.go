package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/fieldmemo/memo-service/internal/config"
	"github.com/fieldmemo/memo-service/internal/jobs"
	"github.com/fieldmemo/memo-service/internal/metrics"
	"github.com/fieldmemo/memo-service/internal/storage"
	"github.com/fieldmemo/memo-service/internal/transcription"
)

// Dependencies are the components the HTTP API serves
type Dependencies struct {
	Config  *config.Config
	Jobs    *jobs.Manager
	Records *storage.RecordStore
	Objects *storage.ObjectStore
	Metrics *metrics.Metrics

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer

	// TranscriptionStats reports client statistics when the backend keeps them
	TranscriptionStats func() transcription.ClientStats
}

// HTTPServer provides the memo API and monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	router  *mux.Router
	logger  *slog.Logger
	config  *config.Config
	jobs    *jobs.Manager
	records *storage.RecordStore
	objects *storage.ObjectStore
	metrics *metrics.Metrics

	gatherer           prometheus.Gatherer
	transcriptionStats func() transcription.ClientStats

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	h := &HTTPServer{
		logger:             logger,
		config:             deps.Config,
		jobs:               deps.Jobs,
		records:            deps.Records,
		objects:            deps.Objects,
		metrics:            deps.Metrics,
		gatherer:           deps.Gatherer,
		transcriptionStats: deps.TranscriptionStats,
		startTime:          time.Now(),
	}

	h.router = mux.NewRouter()
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the API router
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r *mux.Router) {
	// Memo processing
	r.HandleFunc("/memos", h.withMetrics("/memos", h.handleCreateMemo)).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleListJobs)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.withMetrics("/jobs/{id}", h.handleGetJob)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/events", h.withMetrics("/jobs/{id}/events", h.handleJobEvents)).Methods(http.MethodGet)

	// Records
	r.HandleFunc("/records", h.withMetrics("/records", h.handleListRecords)).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}", h.withMetrics("/records/{id}", h.handleGetRecord)).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}", h.withMetrics("/records/{id}", h.handleUpdateRecord)).Methods(http.MethodPut)
	r.HandleFunc("/records/{id}", h.withMetrics("/records/{id}", h.handleDeleteRecord)).Methods(http.MethodDelete)
	r.HandleFunc("/records/{id}/export", h.withMetrics("/records/{id}/export", h.handleExportRecord)).Methods(http.MethodGet)

	// Photos and signed objects
	r.HandleFunc("/records/{id}/photos", h.withMetrics("/records/{id}/photos", h.handleUploadPhoto)).Methods(http.MethodPost)
	r.HandleFunc("/records/{id}/photos/{photo}", h.withMetrics("/records/{id}/photos/{photo}", h.handleDeletePhoto)).Methods(http.MethodDelete)
	r.HandleFunc("/records/{id}/photos/{photo}/url", h.withMetrics("/records/{id}/photos/{photo}/url", h.handlePhotoURL)).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}/audio/url", h.withMetrics("/records/{id}/audio/url", h.handleAudioURL)).Methods(http.MethodGet)
	r.HandleFunc("/objects/{key:.+}", h.withMetrics("/objects/{key}", h.handleGetObject)).Methods(http.MethodGet)

	// Monitoring
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	r.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets websocket upgrades through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	status := "healthy"
	code := http.StatusOK

	recordCount, err := h.records.Count(r.Context())
	storageStatus := "running"
	if err != nil {
		h.logger.Error("Health check failed", slog.String("error", err.Error()))
		status, code, storageStatus = "unhealthy", http.StatusServiceUnavailable, "error"
	}

	components := map[string]interface{}{
		"record_store": map[string]interface{}{
			"status":  storageStatus,
			"records": recordCount,
		},
		"job_manager": map[string]interface{}{
			"status": "running",
			"jobs":   h.jobs.Stats(),
		},
	}

	if h.transcriptionStats != nil {
		stats := h.transcriptionStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "memo-service",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint with secrets masked
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := h.config.Sanitized()

	// round trip through YAML so the response uses the config file's keys
	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode configuration")
		return
	}

	var view map[string]interface{}
	if err := yaml.Unmarshal(data, &view); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode configuration")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	recordCount, err := h.records.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count records")
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"jobs":      h.jobs.Stats(),
		"records":   recordCount,
	}

	if h.transcriptionStats != nil {
		stats["transcription"] = h.transcriptionStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Field Memo Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /memos":                          "Upload a voice memo (multipart: audio, title, customer, language)",
			"GET /jobs":                            "List processing jobs",
			"GET /jobs/{id}":                       "Get job status",
			"GET /jobs/{id}/events":                "Job progress stream (websocket)",
			"GET /records":                         "List records (q, limit, offset)",
			"GET /records/{id}":                    "Get a record",
			"PUT /records/{id}":                    "Edit a record",
			"DELETE /records/{id}":                 "Delete a record",
			"GET /records/{id}/export":             "Export a record (format: markdown, json, text)",
			"POST /records/{id}/photos":            "Attach a photo (multipart: photo)",
			"DELETE /records/{id}/photos/{photo}":  "Remove a photo",
			"GET /records/{id}/photos/{photo}/url": "Signed photo URL",
			"GET /records/{id}/audio/url":          "Signed audio URL",
			"GET /objects/{key}?expires=&sig=":     "Download a signed object",
			"GET /health":                          "Service health check",
			"GET /config":                          "Get service configuration",
			"GET /stats":                           "Get service statistics",
			"GET /metrics":                         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
