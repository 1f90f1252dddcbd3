// Package server implements the memo HTTP API: uploads, job progress over
// websockets, record browsing and export, photo attachments served through
// signed URLs, and the health, stats and Prometheus endpoints.
package server
