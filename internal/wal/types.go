// Package wal implements the write-ahead log that guards every mutation of
// the vector and graph indexes.
//
// A mutation is journaled as a pending Record before it is applied. The
// caller then marks it succeeded or failed. Failed records keep their file
// content in the ContentStore so the recovery task can replay them, and
// successful records are purged once they age past the retention window.
//
// Layout under the data directory:
//
//	wal.jsonl               one JSON Record per line, oldest first
//	wal_content/<id>.txt    content of records that carried any
package wal

import (
	"time"

	"github.com/pkg/errors"
)

// OpType is the kind of index mutation a Record describes.
type OpType string

const (
	OpUpsert OpType = "upsert"
	OpDelete OpType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	return t == OpUpsert || t == OpDelete
}

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailed
}

// ErrNotFound is returned when no record carries the requested id.
var ErrNotFound = errors.New("wal record not found")

// Record is one journaled operation. Everything but Status, CompletedAt
// and Error is immutable once appended.
type Record struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Operation     OpType     `json:"operation"`
	File          string     `json:"file"`
	Hash          *string    `json:"hash"`
	ContentFile   *string    `json:"content_file"`
	ContentLength int        `json:"content_length"`
	Status        Status     `json:"status"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// HasContent reports whether a content blob was stored for the record.
func (r Record) HasContent() bool {
	return r.ContentFile != nil && *r.ContentFile != ""
}

// Operation is an intended mutation handed to WAL.Append.
type Operation struct {
	Type    OpType
	File    string
	Content string
	Hash    string
}

// RecordWithContent is a Record merged with its recovered content.
type RecordWithContent struct {
	Record
	Content    string `json:"content,omitempty"`
	HasContent bool   `json:"-"`
}

// Stats are aggregate record counts, recomputed by scanning the journal.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// CleanupResult summarizes a CleanupOldEntries pass.
type CleanupResult struct {
	Kept    int `json:"kept"`
	Removed int `json:"removed"`
}

// Predicate selects records during scans and removals.
type Predicate func(Record) bool

// WithStatus selects records in status s.
func WithStatus(s Status) Predicate {
	return func(r Record) bool { return r.Status == s }
}

// All selects every record.
func All(Record) bool { return true }
