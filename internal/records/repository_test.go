package records_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/internal/records"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/JaimeStill/compass/pkg/txn"
)

var (
	batchColumns = []string{
		"id", "source", "year", "filename", "row_count",
		"accepted", "rejected", "storage_key", "uploaded_at",
	}
	recordColumns = []string{
		"id", "batch_id", "row_index", "specialty", "provider_type", "region", "variable",
		"unmapped", "organizations", "incumbents", "percentiles", "source", "year",
		"created_at", "filename",
	}
	uploadedAt = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
)

type emptyMappings struct{}

func (emptyMappings) Snapshot() *mappings.Registry { return mappings.EmptyRegistry() }

type blobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	uploaded []string
	deleted  []string
}

func newBlobStore() *blobStore {
	return &blobStore{blobs: make(map[string][]byte)}
}

func (s *blobStore) Start(*lifecycle.Coordinator) error { return nil }

func (s *blobStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	s.uploaded = append(s.uploaded, key)
	return nil
}

func (s *blobStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *blobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.blobs, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *blobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *blobStore) List(context.Context, string, string, int32) (*storage.BlobList, error) {
	return &storage.BlobList{}, nil
}

func (s *blobStore) Find(_ context.Context, key string) (*storage.BlobMeta, error) {
	return nil, storage.ErrNotFound
}

func newRecordSystem(t *testing.T, store storage.System) (records.System, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &txn.Config{VerifyAttempts: 1}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("txn config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sys := records.New(
		db,
		store,
		txn.New(cfg, logger),
		emptyMappings{},
		logger,
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
		2,
		0,
	)
	return sys, mock
}

func TestIngestPersistFailureDeletesArchive(t *testing.T) {
	store := newBlobStore()
	sys, mock := newRecordSystem(t, store)

	boom := errors.New("relation survey_batches is locked")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM survey_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO survey_batches").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := sys.Ingest(context.Background(), records.IngestCommand{
		Source:   "mgma",
		Year:     2024,
		Filename: "q3.json",
		Rows: []normalize.RawRow{
			{"specialty": "Cardiology", "provider_type": "MD", "region": "West", "tcc_p50": 400000},
		},
	})

	var aerr *txn.AtomicityError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *txn.AtomicityError", err)
	}
	if aerr.Step != "persist batch" {
		t.Errorf("failed step = %q, want persist batch", aerr.Step)
	}
	if !slices.Equal(aerr.RolledBack, []string{"archive raw rows"}) {
		t.Errorf("rolled back = %v, want [archive raw rows]", aerr.RolledBack)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}

	if len(store.uploaded) != 1 {
		t.Fatalf("uploaded = %v, want one archive", store.uploaded)
	}
	if !slices.Equal(store.deleted, store.uploaded) {
		t.Errorf("deleted = %v, want %v", store.deleted, store.uploaded)
	}
	if len(store.blobs) != 0 {
		t.Errorf("blobs left behind: %d", len(store.blobs))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRenormalizeVerifyFailureRestoresRecords(t *testing.T) {
	sys, mock := newRecordSystem(t, newBlobStore())

	batchID := uuid.New()
	prevID := uuid.New()
	key := "batches/" + batchID.String() + "/q3.json"

	mock.ExpectQuery("FROM public.survey_batches b").WithArgs(batchID).WillReturnRows(
		sqlmock.NewRows(batchColumns).AddRow(
			batchID.String(), "mgma", 2024, "q3.json", 1, 1, 0, key, uploadedAt,
		),
	)

	// The stored row lost its region, so renormalization now rejects it.
	mock.ExpectQuery("SELECT data FROM raw_rows").WithArgs(batchID).WillReturnRows(
		sqlmock.NewRows([]string{"data"}).AddRow(
			[]byte(`{"specialty":"Cardiology","provider_type":"MD","tcc_p50":400000}`),
		),
	)

	mock.ExpectQuery("FROM public.records r").WithArgs(batchID).WillReturnRows(
		sqlmock.NewRows(recordColumns).AddRow(
			prevID.String(), batchID.String(), 0, "Cardiology", "MD", "West", "tcc",
			[]byte(`[]`), 4, 10, []byte(`{"50":400000}`), "mgma", 2024,
			uploadedAt, "q3.json",
		),
	)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM records").WithArgs(batchID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE survey_batches").WithArgs(batchID, 0, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT COUNT").WithArgs(batchID).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(1),
	)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM records").WithArgs(batchID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("INSERT INTO records").
		ExpectExec().
		WithArgs(
			prevID, batchID, 0, "Cardiology", "MD", "West", "tcc",
			sqlmock.AnyArg(), 4, 10, sqlmock.AnyArg(), "mgma", 2024, uploadedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE survey_batches").WithArgs(batchID, 1, 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := sys.Renormalize(context.Background(), batchID)

	var aerr *txn.AtomicityError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *txn.AtomicityError", err)
	}
	if !errors.Is(err, txn.ErrVerifyFailed) {
		t.Errorf("error = %v, want ErrVerifyFailed", err)
	}
	if !slices.Equal(aerr.RolledBack, []string{"replace batch records"}) {
		t.Errorf("rolled back = %v, want [replace batch records]", aerr.RolledBack)
	}
	if !aerr.Consistent() {
		t.Errorf("rollback failures = %v", aerr.RollbackFailures)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
