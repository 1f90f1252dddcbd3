package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/fieldmemo/memo-service/internal/minutes"
)

// ErrNotFound is returned for unknown record IDs and object keys
var ErrNotFound = errors.New("not found")

// ErrDuplicateAudio is returned by Create when a record with the same audio hash exists
var ErrDuplicateAudio = errors.New("audio already stored")

// Record is one processed voice memo
type Record struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Customer   string           `json:"customer"`
	Language   string           `json:"language"`
	Transcript string           `json:"transcript"`
	Summary    string           `json:"summary"`
	Minutes    *minutes.Minutes `json:"minutes,omitempty"`
	AudioHash  string           `json:"audio_hash,omitempty"`
	AudioKey   string           `json:"audio_key,omitempty"`
	AudioSize  int64            `json:"audio_size"`
	Photos     []string         `json:"photos"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

const schema = `
create table if not exists records (
	id text primary key not null,
	title text not null default '',
	customer text not null default '',
	language text not null default '',
	transcript text not null default '',
	summary text not null default '',
	minutes text not null default '',
	audio_hash text not null default '',
	audio_key text not null default '',
	audio_size integer not null default 0,
	photos text not null default '[]',
	created_at integer not null,
	updated_at integer not null
);

create unique index if not exists records_audio_hash on records (audio_hash) where audio_hash != '';
create index if not exists records_created_at on records (created_at);`

const recordColumns = `id, title, customer, language, transcript, summary, minutes,
	audio_hash, audio_key, audio_size, photos, created_at, updated_at`

// RecordStore persists records in SQLite
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (and migrates) the SQLite database at path
func NewRecordStore(path string) (*RecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// connection pragmas go in the DSN so every pooled connection gets them
	dsn := "file:" + path + "?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	return &RecordStore{db: db}, nil
}

// Close closes the database
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Create assigns an ID and timestamps and inserts the record
func (s *RecordStore) Create(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Photos == nil {
		record.Photos = []string{}
	}

	minutesJSON, photosJSON, err := encodeColumns(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into records (`+recordColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.Title, record.Customer, record.Language, record.Transcript,
		record.Summary, minutesJSON, record.AudioHash, record.AudioKey, record.AudioSize,
		photosJSON, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("persisting record into sqlite: %w", ErrDuplicateAudio)
		}
		return fmt.Errorf("persisting record into sqlite: %w", err)
	}

	return nil
}

// Get returns the record with the given ID
func (s *RecordStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "select "+recordColumns+" from records where id = $1", id)

	record, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	return record, nil
}

// GetByAudioHash returns the record created from audio with the given hash
func (s *RecordStore) GetByAudioHash(ctx context.Context, hash string) (*Record, error) {
	if hash == "" {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, "select "+recordColumns+" from records where audio_hash = $1", hash)

	record, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("get record by hash: %w", err)
	}

	return record, nil
}

// Update overwrites the mutable fields of an existing record
func (s *RecordStore) Update(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now().UTC()
	if record.Photos == nil {
		record.Photos = []string{}
	}

	minutesJSON, photosJSON, err := encodeColumns(record)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		update records
		set title = $1, customer = $2, language = $3, transcript = $4, summary = $5,
			minutes = $6, audio_key = $7, photos = $8, updated_at = $9
		where id = $10`,
		record.Title, record.Customer, record.Language, record.Transcript, record.Summary,
		minutesJSON, record.AudioKey, photosJSON, record.UpdatedAt.UnixMilli(), record.ID,
	)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", record.ID, err)
	}

	return expectOneRow(res, record.ID)
}

// Delete removes a record
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "delete from records where id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}

	return expectOneRow(res, id)
}

// List returns records newest first
func (s *RecordStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+recordColumns+` from records
		order by created_at desc, id
		limit $1 offset $2`,
		normalizeLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	return collectRecords(rows)
}

// Search returns records whose title, customer, transcript or summary contain
// query, ignoring ASCII case, newest first
func (s *RecordStore) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, limit, 0)
	}

	rows, err := s.db.QueryContext(ctx, `
		select `+recordColumns+` from records
		where instr(lower(title), lower($1)) > 0
			or instr(lower(customer), lower($1)) > 0
			or instr(lower(transcript), lower($1)) > 0
			or instr(lower(summary), lower($1)) > 0
		order by created_at desc, id
		limit $2`,
		query, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}

	return collectRecords(rows)
}

// Count returns the number of stored records
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "select count(*) from records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record      Record
		minutesJSON string
		photosJSON  string
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(&record.ID, &record.Title, &record.Customer, &record.Language,
		&record.Transcript, &record.Summary, &minutesJSON, &record.AudioHash,
		&record.AudioKey, &record.AudioSize, &photosJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if minutesJSON != "" {
		record.Minutes = &minutes.Minutes{}
		if err := json.Unmarshal([]byte(minutesJSON), record.Minutes); err != nil {
			return nil, fmt.Errorf("decoding minutes column: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(photosJSON), &record.Photos); err != nil {
		return nil, fmt.Errorf("decoding photos column: %w", err)
	}

	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return records, nil
}

func encodeColumns(record *Record) (string, string, error) {
	var minutesJSON string
	if record.Minutes != nil {
		data, err := json.Marshal(record.Minutes)
		if err != nil {
			return "", "", fmt.Errorf("encoding minutes: %w", err)
		}
		minutesJSON = string(data)
	}

	photos, err := json.Marshal(record.Photos)
	if err != nil {
		return "", "", fmt.Errorf("encoding photos: %w", err)
	}

	return minutesJSON, string(photos), nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 500)
}
