// Package records implements survey ingestion and the normalized record store.
// A batch is one ingestion call. Its raw rows are archived to blob storage and
// kept in the database so the batch can be normalized again after mappings change.
package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/normalize"
)

// Store is the lock name guarding batches and records.
const Store = "records"

// Batch describes one ingested payload.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	Year       int       `json:"year"`
	Filename   string    `json:"filename"`
	Rows       int       `json:"rows"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	StorageKey string    `json:"storage_key"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Entry is a stored record together with the filename of its batch.
type Entry struct {
	normalize.Record
	Filename string `json:"filename"`
}

// IngestCommand carries one survey payload.
type IngestCommand struct {
	Source   string             `json:"source"`
	Year     int                `json:"year"`
	Filename string             `json:"filename"`
	Rows     []normalize.RawRow `json:"rows"`
}

// IngestResult reports the records stored for a batch and the rows rejected.
type IngestResult struct {
	Batch    *Batch                `json:"batch"`
	Accepted []normalize.Record    `json:"accepted"`
	Rejected []normalize.Rejection `json:"rejected"`
}
