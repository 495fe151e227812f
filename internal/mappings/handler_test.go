package mappings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/txn"
)

type mockSystem struct {
	resolveFn      func(dim mappings.Dimension, label, source string) (string, bool)
	listFn         func(ctx context.Context, page pagination.PageRequest, filters mappings.Filters) (*pagination.PageResult[mappings.Mapping], error)
	findFn         func(ctx context.Context, id uuid.UUID) (*mappings.Mapping, error)
	createFn       func(ctx context.Context, cmd mappings.CreateCommand) (*mappings.Mapping, error)
	addLabelFn     func(ctx context.Context, id uuid.UUID, label mappings.SourceLabel) (*mappings.Mapping, error)
	removeLabelFn  func(ctx context.Context, id uuid.UUID, cmd mappings.RemoveLabelCommand) (*mappings.Mapping, error)
	renameFn       func(ctx context.Context, id uuid.UUID, cmd mappings.RenameCommand) (*mappings.Mapping, error)
	deleteFn       func(ctx context.Context, id uuid.UUID) error
	suggestFn      func(ctx context.Context, req mappings.SuggestRequest) ([]mappings.Candidate, error)
	clusterFn      func(ctx context.Context, req mappings.ClusterRequest) ([]mappings.Suggestion, error)
	correctFn      func(ctx context.Context, cmd mappings.CorrectionCommand) (*mappings.LearnedMapping, error)
	learnedFn      func(ctx context.Context, dim mappings.Dimension) ([]mappings.LearnedMapping, error)
	applyFn        func(ctx context.Context, dim mappings.Dimension) (*mappings.ApplyResult, error)
	clearLearnedFn func(ctx context.Context, dim mappings.Dimension) (int, error)
}

func (m *mockSystem) Handler() *mappings.Handler { return newTestHandler(m) }

func (m *mockSystem) Start(*lifecycle.Coordinator) error { return nil }
func (m *mockSystem) Load(context.Context) error         { return nil }
func (m *mockSystem) Ready() bool                        { return true }
func (m *mockSystem) Snapshot() *mappings.Registry       { return mappings.EmptyRegistry() }

func (m *mockSystem) Resolve(dim mappings.Dimension, label, source string) (string, bool) {
	return m.resolveFn(dim, label, source)
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters mappings.Filters) (*pagination.PageResult[mappings.Mapping], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*mappings.Mapping, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) Create(ctx context.Context, cmd mappings.CreateCommand) (*mappings.Mapping, error) {
	return m.createFn(ctx, cmd)
}

func (m *mockSystem) AddLabel(ctx context.Context, id uuid.UUID, label mappings.SourceLabel) (*mappings.Mapping, error) {
	return m.addLabelFn(ctx, id, label)
}

func (m *mockSystem) RemoveLabel(ctx context.Context, id uuid.UUID, cmd mappings.RemoveLabelCommand) (*mappings.Mapping, error) {
	return m.removeLabelFn(ctx, id, cmd)
}

func (m *mockSystem) Rename(ctx context.Context, id uuid.UUID, cmd mappings.RenameCommand) (*mappings.Mapping, error) {
	return m.renameFn(ctx, id, cmd)
}

func (m *mockSystem) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

func (m *mockSystem) Suggest(ctx context.Context, req mappings.SuggestRequest) ([]mappings.Candidate, error) {
	return m.suggestFn(ctx, req)
}

func (m *mockSystem) Cluster(ctx context.Context, req mappings.ClusterRequest) ([]mappings.Suggestion, error) {
	return m.clusterFn(ctx, req)
}

func (m *mockSystem) Correct(ctx context.Context, cmd mappings.CorrectionCommand) (*mappings.LearnedMapping, error) {
	return m.correctFn(ctx, cmd)
}

func (m *mockSystem) Learned(ctx context.Context, dim mappings.Dimension) ([]mappings.LearnedMapping, error) {
	return m.learnedFn(ctx, dim)
}

func (m *mockSystem) ApplyLearned(ctx context.Context, dim mappings.Dimension) (*mappings.ApplyResult, error) {
	return m.applyFn(ctx, dim)
}

func (m *mockSystem) ClearLearned(ctx context.Context, dim mappings.Dimension) (int, error) {
	return m.clearLearnedFn(ctx, dim)
}

func newTestHandler(sys mappings.System) *mappings.Handler {
	return mappings.NewHandler(
		sys,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
	)
}

func setupMux(h *mappings.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		pattern := route.Method + " " + group.Prefix + route.Pattern
		mux.HandleFunc(pattern, route.Handler)
	}
	return mux
}

func sampleMapping() mappings.Mapping {
	return mappings.Mapping{
		ID:            uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Dimension:     mappings.Specialty,
		CanonicalName: "Cardiology",
		CanonicalKey:  "cardiology",
		Labels:        []mappings.SourceLabel{{Label: "Cardio", Source: "mgma", Original: "Cardio"}},
		CreatedAt:     time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", mappings.ErrNotFound, http.StatusNotFound},
		{"label not found", mappings.ErrLabelNotFound, http.StatusNotFound},
		{"duplicate", mappings.ErrDuplicate, http.StatusConflict},
		{"label conflict", fmt.Errorf("wrap: %w", mappings.ErrLabelConflict), http.StatusConflict},
		{"invalid dimension", mappings.ErrInvalidDimension, http.StatusBadRequest},
		{"invalid threshold", mappings.ErrInvalidThreshold, http.StatusBadRequest},
		{"lock timeout", &txn.ConcurrencyError{Store: mappings.Store, Mode: txn.ReadWrite, Err: context.DeadlineExceeded}, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mappings.MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandlerList(t *testing.T) {
	m := sampleMapping()
	var captured mappings.Filters

	sys := &mockSystem{
		listFn: func(_ context.Context, _ pagination.PageRequest, f mappings.Filters) (*pagination.PageResult[mappings.Mapping], error) {
			captured = f
			result := pagination.NewPageResult([]mappings.Mapping{m}, 1, 1, 20)
			return &result, nil
		},
	}
	mux := setupMux(newTestHandler(sys))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/mappings?dimension=specialty&canonical_name=card", nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result pagination.PageResult[mappings.Mapping]
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 1 || len(result.Data) != 1 {
		t.Fatalf("result = %+v, want one mapping", result)
	}
	if captured.Dimension == nil || *captured.Dimension != mappings.Specialty {
		t.Errorf("dimension filter = %v, want specialty", captured.Dimension)
	}
	if captured.CanonicalName == nil || *captured.CanonicalName != "card" {
		t.Errorf("canonical_name filter = %v, want card", captured.CanonicalName)
	}
}

func TestHandlerFind(t *testing.T) {
	m := sampleMapping()

	t.Run("found", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(_ context.Context, id uuid.UUID) (*mappings.Mapping, error) {
				if id != m.ID {
					return nil, mappings.ErrNotFound
				}
				return &m, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/"+m.ID.String(), nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		mux := setupMux(newTestHandler(&mockSystem{}))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/nope", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(context.Context, uuid.UUID) (*mappings.Mapping, error) {
				return nil, mappings.ErrNotFound
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/"+uuid.New().String(), nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerCreate(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		var captured mappings.CreateCommand
		sys := &mockSystem{
			createFn: func(_ context.Context, cmd mappings.CreateCommand) (*mappings.Mapping, error) {
				captured = cmd
				m := sampleMapping()
				return &m, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		body := jsonBody(t, mappings.CreateCommand{
			Dimension:     mappings.Specialty,
			CanonicalName: "Cardiology",
			Labels:        []mappings.SourceLabel{{Label: "Cardio", Source: "mgma"}},
		})

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings", body))

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if captured.CanonicalName != "Cardiology" || len(captured.Labels) != 1 {
			t.Errorf("command = %+v", captured)
		}
	})

	t.Run("conflict", func(t *testing.T) {
		sys := &mockSystem{
			createFn: func(context.Context, mappings.CreateCommand) (*mappings.Mapping, error) {
				return nil, mappings.ErrLabelConflict
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings", bytes.NewReader([]byte(`{}`))))

		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		mux := setupMux(newTestHandler(&mockSystem{}))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings", bytes.NewReader([]byte(`{`))))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerRemoveLabel(t *testing.T) {
	m := sampleMapping()

	t.Run("mapping kept", func(t *testing.T) {
		sys := &mockSystem{
			removeLabelFn: func(context.Context, uuid.UUID, mappings.RemoveLabelCommand) (*mappings.Mapping, error) {
				return &m, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		body := jsonBody(t, mappings.RemoveLabelCommand{Label: "Cardio", Source: "mgma"})
		mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/mappings/"+m.ID.String()+"/labels", body))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("last label deletes mapping", func(t *testing.T) {
		sys := &mockSystem{
			removeLabelFn: func(context.Context, uuid.UUID, mappings.RemoveLabelCommand) (*mappings.Mapping, error) {
				return nil, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		body := jsonBody(t, mappings.RemoveLabelCommand{Label: "Cardio"})
		mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/mappings/"+m.ID.String()+"/labels", body))

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	})
}

func TestHandlerResolve(t *testing.T) {
	sys := &mockSystem{
		resolveFn: func(dim mappings.Dimension, label, source string) (string, bool) {
			if dim == mappings.Specialty && label == "Cardio" && source == "mgma" {
				return "Cardiology", true
			}
			return "", false
		},
	}
	mux := setupMux(newTestHandler(sys))

	t.Run("mapped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/resolve?dimension=specialty&label=Cardio&source=mgma", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var got mappings.ResolveResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Mapped || got.CanonicalName != "Cardiology" {
			t.Errorf("response = %+v, want mapped to Cardiology", got)
		}
	})

	t.Run("unmapped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/resolve?dimension=specialty&label=Heart", nil))

		var got mappings.ResolveResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Mapped {
			t.Errorf("mapped = true, want false")
		}
	})

	t.Run("invalid dimension", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/mappings/resolve?dimension=zip&label=x", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerSuggest(t *testing.T) {
	var captured mappings.SuggestRequest
	sys := &mockSystem{
		suggestFn: func(_ context.Context, req mappings.SuggestRequest) ([]mappings.Candidate, error) {
			captured = req
			return []mappings.Candidate{{Name: "Cardiology", Kind: mappings.CandidateCanonical, Confidence: 1}}, nil
		},
	}
	mux := setupMux(newTestHandler(sys))

	threshold := 0.8
	body := jsonBody(t, mappings.SuggestRequest{Dimension: mappings.Specialty, Label: "Cardio", Threshold: &threshold})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings/suggest", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if captured.Threshold == nil || *captured.Threshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", captured.Threshold)
	}

	var got []mappings.Candidate
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Cardiology" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestHandlerLearned(t *testing.T) {
	t.Run("apply passes dimension", func(t *testing.T) {
		var captured mappings.Dimension
		sys := &mockSystem{
			applyFn: func(_ context.Context, dim mappings.Dimension) (*mappings.ApplyResult, error) {
				captured = dim
				return &mappings.ApplyResult{}, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings/learned/apply?dimension=region", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if captured != mappings.Region {
			t.Errorf("dimension = %q, want region", captured)
		}
	})

	t.Run("clear reports count", func(t *testing.T) {
		sys := &mockSystem{
			clearLearnedFn: func(context.Context, mappings.Dimension) (int, error) {
				return 3, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/mappings/learned", nil))

		var got map[string]int
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["cleared"] != 3 {
			t.Errorf("cleared = %d, want 3", got["cleared"])
		}
	})

	t.Run("lock timeout maps to conflict", func(t *testing.T) {
		sys := &mockSystem{
			correctFn: func(context.Context, mappings.CorrectionCommand) (*mappings.LearnedMapping, error) {
				return nil, &txn.ConcurrencyError{Store: mappings.Store, Mode: txn.ReadWrite, Err: context.DeadlineExceeded}
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		body := jsonBody(t, mappings.CorrectionCommand{Dimension: mappings.Specialty, Label: "x", CanonicalName: "y"})
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/mappings/corrections", body))

		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})
}
