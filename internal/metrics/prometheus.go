package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the memo service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Upload metrics
	UploadsReceived prometheus.Counter
	UploadSize      prometheus.Histogram
	UploadsSplit    prometheus.Counter

	// Decoding and chunking metrics
	DecodeFailures  prometheus.Counter
	DecodeDuration  prometheus.Histogram
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter
	InFlightChunks         prometheus.Gauge

	// Job metrics
	ActiveJobs    prometheus.Gauge
	JobsCompleted *prometheus.CounterVec
	JobDuration   prometheus.Histogram

	// Minutes generation metrics
	MinutesRequests *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Upload metrics
		UploadsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_uploads_received_total",
			Help: "Total number of audio uploads received",
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_upload_size_bytes",
			Help:    "Size of uploaded audio files in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12), // 64KB to ~128MB
		}),
		UploadsSplit: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_uploads_split_total",
			Help: "Total number of uploads that exceeded the size threshold and were chunked",
		}),

		// Decoding and chunking metrics
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_decode_failures_total",
			Help: "Total number of uploads that could not be decoded",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_decode_duration_seconds",
			Help:    "Time spent decoding and encoding oversized uploads",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_audio_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.LinearBuckets(30, 60, 11), // 30s to 630s
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_chunk_size_bytes",
			Help:    "Size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 8), // 256KB to ~32MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "memo_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),
		InFlightChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memo_transcription_in_flight_chunks",
			Help: "Current number of chunk transcription calls in flight",
		}),

		// Job metrics
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memo_active_jobs",
			Help: "Current number of memo processing jobs running",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_jobs_finished_total",
			Help: "Total number of memo processing jobs finished, by outcome",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_job_duration_seconds",
			Help:    "End-to-end duration of memo processing jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Minutes generation metrics
		MinutesRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_minutes_requests_total",
			Help: "Total number of minutes generation requests, by outcome",
		}, []string{"status"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUpload records a received upload and whether it had to be split
func (m *Metrics) RecordUpload(sizeBytes int, split bool) {
	if m == nil {
		return
	}
	m.UploadsReceived.Inc()
	m.UploadSize.Observe(float64(sizeBytes))
	if split {
		m.UploadsSplit.Inc()
	}
}

// RecordDecodeFailure increments the decode failures counter
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

// RecordDecode records the time spent decoding, planning and encoding one upload
func (m *Metrics) RecordDecode(durationSeconds float64) {
	if m == nil {
		return
	}
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordChunkGenerated records a generated audio chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	m.InFlightChunks.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.InFlightChunks.Dec()
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.InFlightChunks.Dec()
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// SetActiveJobs sets the current number of running jobs
func (m *Metrics) SetActiveJobs(count int) {
	if m == nil {
		return
	}
	m.ActiveJobs.Set(float64(count))
}

// RecordJobFinished records a finished job and its duration
func (m *Metrics) RecordJobFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(status).Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordMinutes records a minutes generation outcome
func (m *Metrics) RecordMinutes(status string) {
	if m == nil {
		return
	}
	m.MinutesRequests.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
