// Package storage persists memo records in SQLite and binary objects (audio,
// photos) in Badger, and signs time-limited URLs for object downloads.
package storage
