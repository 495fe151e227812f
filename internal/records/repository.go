package records

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/JaimeStill/compass/pkg/txn"
)

var errCountMismatch = errors.New("stored record count mismatch")

// Mappings provides the registry rows are normalized against.
type Mappings interface {
	Snapshot() *mappings.Registry
}

type repo struct {
	db         *sql.DB
	storage    storage.System
	txm        *txn.Manager
	mappings   Mappings
	logger     *slog.Logger
	pagination pagination.Config
	workers    int
	maxRows    int
}

// New creates a record repository implementing the System interface.
// A maxRows of zero disables the row limit.
func New(
	db *sql.DB,
	store storage.System,
	txm *txn.Manager,
	maps Mappings,
	logger *slog.Logger,
	pagination pagination.Config,
	workers int,
	maxRows int,
) System {
	return &repo{
		db:         db,
		storage:    store,
		txm:        txm,
		mappings:   maps,
		logger:     logger.With("system", "records"),
		pagination: pagination,
		workers:    workers,
		maxRows:    maxRows,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, r.maxRows, maxUploadSize)
}

// Ingest runs through the global transaction queue because it reads the
// mapping registry and writes the record store.
func (r *repo) Ingest(ctx context.Context, cmd IngestCommand) (*IngestResult, error) {
	if err := r.validate(cmd); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cmd.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: encode rows: %w", ErrInvalidBatch, err)
	}

	batch := Batch{
		ID:       uuid.New(),
		Source:   strings.TrimSpace(cmd.Source),
		Year:     cmd.Year,
		Filename: filenameOr(cmd.Filename),
		Rows:     len(cmd.Rows),
	}
	batch.StorageKey = buildStorageKey(batch.ID, sanitizeFilename(batch.Filename))

	var result IngestResult

	err = r.txm.Enqueue(ctx, func(ctx context.Context) error {
		reg, err := r.snapshot(ctx)
		if err != nil {
			return err
		}

		return r.txm.WithLock(ctx, Store, txn.ReadWrite, func(ctx context.Context) error {
			norm, err := normalize.
				New(reg, r.workers, r.logger).
				NormalizeBatch(ctx, cmd.Rows, origin(batch))
			if err != nil {
				return err
			}

			batch.Accepted = len(norm.Accepted)
			batch.Rejected = len(norm.Rejected)
			batch.UploadedAt = now()

			steps := []txn.Step{
				r.archiveStep(batch.StorageKey, payload),
				r.insertStep(batch, cmd.Rows, norm.Accepted),
			}
			if err := r.txm.ExecuteAtomic(ctx, steps, txn.AtomicOptions{}); err != nil {
				return err
			}

			result = IngestResult{
				Batch:    &batch,
				Accepted: norm.Accepted,
				Rejected: norm.Rejected,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("batch ingested",
		"id", batch.ID,
		"source", batch.Source,
		"year", batch.Year,
		"rows", batch.Rows,
		"accepted", batch.Accepted,
		"rejected", batch.Rejected,
	)
	return &result, nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Entry], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort...).
		WhereSearch(page.Search, "Specialty", "Region", "Variable", "Filename")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	var result pagination.PageResult[Entry]

	err := r.read(ctx, func(ctx context.Context) error {
		countSQL, countArgs := qb.BuildCount()
		var total int
		if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
			return fmt.Errorf("count records: %w", err)
		}

		pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
		entries, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanEntry)
		if err != nil {
			return fmt.Errorf("query records: %w", err)
		}

		result = pagination.NewPageResult(entries, total, page.Page, page.PageSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *repo) Query(ctx context.Context, filters Filters) ([]normalize.Record, error) {
	qb := query.NewBuilder(projection, defaultSort...)
	filters.Apply(qb)

	var out []normalize.Record

	err := r.read(ctx, func(ctx context.Context) error {
		q, args := qb.Build()
		recs, err := repository.QueryMany(ctx, r.db, q, args, scanRecord)
		if err != nil {
			return fmt.Errorf("query records: %w", err)
		}
		out = recs
		return nil
	})
	return out, err
}

func (r *repo) Batches(
	ctx context.Context,
	page pagination.PageRequest,
	filters BatchFilters,
) (*pagination.PageResult[Batch], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(batchProjection, batchSort).
		WhereSearch(page.Search, "Source", "Filename")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	batches, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanBatch)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	result := pagination.NewPageResult(batches, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) FindBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	q, args := query.NewBuilder(batchProjection).BuildSingle("ID", id)

	b, err := repository.QueryOne(ctx, r.db, q, args, scanBatch)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &b, nil
}

func (r *repo) Raw(ctx context.Context, id uuid.UUID) (*Batch, io.ReadCloser, error) {
	b, err := r.FindBatch(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := r.storage.Download(ctx, b.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrRawMissing, b.StorageKey)
		}
		return nil, nil, fmt.Errorf("download raw rows: %w", err)
	}
	return b, rc, nil
}

// Renormalize replaces the records of a batch with a fresh normalization of
// its raw rows against the current mapping registry.
func (r *repo) Renormalize(ctx context.Context, id uuid.UUID) (*IngestResult, error) {
	var result IngestResult

	err := r.txm.Enqueue(ctx, func(ctx context.Context) error {
		reg, err := r.snapshot(ctx)
		if err != nil {
			return err
		}

		return r.txm.WithLock(ctx, Store, txn.ReadWrite, func(ctx context.Context) error {
			prev, err := r.FindBatch(ctx, id)
			if err != nil {
				return err
			}

			rows, err := r.rawRows(ctx, *prev)
			if err != nil {
				return err
			}

			prevRecords, err := r.batchRecords(ctx, id)
			if err != nil {
				return err
			}

			norm, err := normalize.
				New(reg, r.workers, r.logger).
				NormalizeBatch(ctx, rows, origin(*prev))
			if err != nil {
				return err
			}

			next := *prev
			next.Accepted = len(norm.Accepted)
			next.Rejected = len(norm.Rejected)

			steps := []txn.Step{r.replaceStep(*prev, next, prevRecords, norm.Accepted)}
			if err := r.txm.ExecuteAtomic(ctx, steps, txn.AtomicOptions{}); err != nil {
				return err
			}

			result = IngestResult{
				Batch:    &next,
				Accepted: norm.Accepted,
				Rejected: norm.Rejected,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("batch renormalized",
		"id", id,
		"accepted", result.Batch.Accepted,
		"rejected", result.Batch.Rejected,
	)
	return &result, nil
}

func (r *repo) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	var key string

	err := r.txm.WithLock(ctx, Store, txn.ReadWrite, func(ctx context.Context) error {
		b, err := r.FindBatch(ctx, id)
		if err != nil {
			return err
		}
		key = b.StorageKey

		_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
			return struct{}{}, repository.ExecExpectOne(
				ctx, tx,
				"DELETE FROM survey_batches WHERE id = $1",
				id,
			)
		})
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	})
	if err != nil {
		return err
	}

	if delErr := r.storage.Delete(ctx, key); delErr != nil {
		r.logger.Warn(
			"blob delete failed after DB delete",
			"key", key,
			"error", delErr,
		)
	}

	r.logger.Info("batch deleted", "id", id)
	return nil
}

// Unmapped lists the distinct raw labels of dim that records still carry
// unresolved, most frequent first.
func (r *repo) Unmapped(ctx context.Context, dim mappings.Dimension) ([]mappings.UnmappedLabel, error) {
	col, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("%w: %q", mappings.ErrInvalidDimension, dim)
	}

	q := fmt.Sprintf(`
		SELECT r.%[1]s, r.source, COUNT(*)
		FROM public.records r
		WHERE r.unmapped ? $1
		GROUP BY r.%[1]s, r.source
		ORDER BY COUNT(*) DESC, r.%[1]s, r.source`, col)

	scan := func(s repository.Scanner) (mappings.UnmappedLabel, error) {
		l := mappings.UnmappedLabel{Dimension: dim}
		err := s.Scan(&l.Label, &l.Source, &l.Frequency)
		return l, err
	}

	var out []mappings.UnmappedLabel

	err := r.read(ctx, func(ctx context.Context) error {
		labels, err := repository.QueryMany(ctx, r.db, q, []any{string(dim)}, scan)
		if err != nil {
			return fmt.Errorf("query unmapped labels: %w", err)
		}
		out = labels
		return nil
	})
	return out, err
}

func (r *repo) validate(cmd IngestCommand) error {
	if strings.TrimSpace(cmd.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidBatch)
	}
	if cmd.Year <= 0 {
		return fmt.Errorf("%w: year must be positive", ErrInvalidBatch)
	}
	if len(cmd.Rows) == 0 {
		return fmt.Errorf("%w: rows are required", ErrInvalidBatch)
	}
	if r.maxRows > 0 && len(cmd.Rows) > r.maxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(cmd.Rows), r.maxRows)
	}
	return nil
}

func (r *repo) read(ctx context.Context, fn func(context.Context) error) error {
	return r.txm.WithLock(ctx, Store, txn.Read, fn)
}

func (r *repo) snapshot(ctx context.Context) (*mappings.Registry, error) {
	var reg *mappings.Registry
	err := r.txm.WithLock(ctx, mappings.Store, txn.Read, func(context.Context) error {
		reg = r.mappings.Snapshot()
		return nil
	})
	return reg, err
}

// rawRows loads the rows of b from the database, falling back to the blob
// archive when they are missing.
func (r *repo) rawRows(ctx context.Context, b Batch) ([]normalize.RawRow, error) {
	rows, err := repository.QueryMany(
		ctx, r.db,
		"SELECT data FROM raw_rows WHERE batch_id = $1 ORDER BY row_index",
		[]any{b.ID},
		scanRawRow,
	)
	if err != nil {
		return nil, fmt.Errorf("query raw rows: %w", err)
	}
	if len(rows) == b.Rows {
		return rows, nil
	}

	r.logger.Warn("raw rows incomplete, reading archive",
		"id", b.ID,
		"stored", len(rows),
		"expected", b.Rows,
	)

	rc, err := r.storage.Download(ctx, b.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRawMissing, b.StorageKey)
		}
		return nil, fmt.Errorf("download raw rows: %w", err)
	}
	defer rc.Close()

	return decodeRows(rc)
}

func (r *repo) batchRecords(ctx context.Context, id uuid.UUID) ([]normalize.Record, error) {
	qb := query.NewBuilder(projection, defaultSort...)
	Filters{BatchID: &id}.Apply(qb)

	q, args := qb.Build()
	recs, err := repository.QueryMany(ctx, r.db, q, args, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("query batch records: %w", err)
	}
	return recs, nil
}

func (r *repo) archiveStep(key string, payload []byte) txn.Step {
	return txn.Step{
		Name: "archive raw rows",
		Execute: func(ctx context.Context) error {
			return r.storage.Upload(ctx, key, bytes.NewReader(payload), "application/json")
		},
		Rollback: func(ctx context.Context) error {
			return r.storage.Delete(ctx, key)
		},
	}
}

func (r *repo) insertStep(b Batch, rows []normalize.RawRow, recs []normalize.Record) txn.Step {
	return txn.Step{
		Name: "persist batch",
		Execute: func(ctx context.Context) error {
			_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
				if _, err := tx.ExecContext(ctx, "DELETE FROM survey_batches WHERE id = $1", b.ID); err != nil {
					return struct{}{}, err
				}
				if err := insertBatch(ctx, tx, b); err != nil {
					return struct{}{}, err
				}
				if err := insertRawRows(ctx, tx, b.ID, rows); err != nil {
					return struct{}{}, err
				}
				return struct{}{}, insertRecords(ctx, tx, recs)
			})
			return repository.MapError(err, ErrNotFound, ErrDuplicate)
		},
		Verify: func(ctx context.Context) error {
			return r.verifyCount(ctx, b.ID, len(recs))
		},
		Rollback: func(ctx context.Context) error {
			_, err := r.db.ExecContext(ctx, "DELETE FROM survey_batches WHERE id = $1", b.ID)
			return err
		},
	}
}

func (r *repo) replaceStep(prev, next Batch, prevRecords, nextRecords []normalize.Record) txn.Step {
	return txn.Step{
		Name: "replace batch records",
		Execute: func(ctx context.Context) error {
			return replaceRecords(ctx, r.db, next, nextRecords)
		},
		Verify: func(ctx context.Context) error {
			return r.verifyCount(ctx, next.ID, len(nextRecords))
		},
		Rollback: func(ctx context.Context) error {
			return replaceRecords(ctx, r.db, prev, prevRecords)
		},
	}
}

func (r *repo) verifyCount(ctx context.Context, batchID uuid.UUID, want int) error {
	var got int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE batch_id = $1",
		batchID,
	).Scan(&got)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: batch %s has %d records, want %d", errCountMismatch, batchID, got, want)
	}
	return nil
}

func replaceRecords(ctx context.Context, db *sql.DB, b Batch, recs []normalize.Record) error {
	_, err := repository.WithTx(ctx, db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE batch_id = $1", b.ID); err != nil {
			return struct{}{}, err
		}
		if err := insertRecords(ctx, tx, recs); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, repository.ExecExpectOne(
			ctx, tx,
			"UPDATE survey_batches SET accepted = $2, rejected = $3 WHERE id = $1",
			b.ID, b.Accepted, b.Rejected,
		)
	})
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func insertBatch(ctx context.Context, tx *sql.Tx, b Batch) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO survey_batches(id, source, year, filename, row_count, accepted, rejected, storage_key, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID,
		b.Source,
		b.Year,
		b.Filename,
		b.Rows,
		b.Accepted,
		b.Rejected,
		b.StorageKey,
		b.UploadedAt,
	)
	return err
}

func insertRawRows(ctx context.Context, tx *sql.Tx, batchID uuid.UUID, rows []normalize.RawRow) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO raw_rows(batch_id, row_index, data) VALUES ($1, $2, $3)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode raw row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, batchID, i, data); err != nil {
			return fmt.Errorf("insert raw row %d: %w", i, err)
		}
	}
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, recs []normalize.Record) error {
	if len(recs) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records(
			id, batch_id, row_index, specialty, provider_type, region, variable, unmapped,
			organizations, incumbents, percentiles, source, year, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		unmapped := rec.Unmapped
		if unmapped == nil {
			unmapped = []mappings.Dimension{}
		}
		unmappedJSON, err := json.Marshal(unmapped)
		if err != nil {
			return fmt.Errorf("encode unmapped: %w", err)
		}
		percentilesJSON, err := json.Marshal(rec.Percentiles)
		if err != nil {
			return fmt.Errorf("encode percentiles: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID,
			rec.BatchID,
			rec.RowIndex,
			rec.Specialty,
			rec.ProviderType,
			rec.Region,
			rec.Variable,
			unmappedJSON,
			rec.Organizations,
			rec.Incumbents,
			percentilesJSON,
			rec.Source,
			rec.Year,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func decodeRow(data []byte) (normalize.RawRow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var row normalize.RawRow
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode raw row: %w", err)
	}
	return row, nil
}

func decodeRows(rd io.Reader) ([]normalize.RawRow, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	var rows []normalize.RawRow
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode raw rows: %w", err)
	}
	return rows, nil
}

func origin(b Batch) normalize.Origin {
	return normalize.Origin{
		BatchID: b.ID,
		Source:  b.Source,
		Year:    b.Year,
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func buildStorageKey(id uuid.UUID, filename string) string {
	return fmt.Sprintf("batches/%s/%s", id, filename)
}

func filenameOr(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "rows.json"
	}
	return name
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "/" {
		name = "rows.json"
	}
	return url.PathEscape(name)
}
