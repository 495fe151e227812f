package records

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/pkg/pagination"
)

// System defines the public contract for ingestion and record store operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	// Ingest normalizes a payload and stores the batch, its raw rows and its records.
	// Rejected rows are reported, never stored as records.
	Ingest(ctx context.Context, cmd IngestCommand) (*IngestResult, error)

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Entry], error)

	// Query returns every record matching filters under a read lock.
	Query(ctx context.Context, filters Filters) ([]normalize.Record, error)

	Batches(
		ctx context.Context,
		page pagination.PageRequest,
		filters BatchFilters,
	) (*pagination.PageResult[Batch], error)

	FindBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	// Raw returns the archived payload of a batch. The caller must close the reader.
	Raw(ctx context.Context, id uuid.UUID) (*Batch, io.ReadCloser, error)
	Renormalize(ctx context.Context, id uuid.UUID) (*IngestResult, error)
	DeleteBatch(ctx context.Context, id uuid.UUID) error

	Unmapped(ctx context.Context, dim mappings.Dimension) ([]mappings.UnmappedLabel, error)
}
