// Package metrics defines the Prometheus metrics exported by the memo service.
package metrics
