package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/pkg/formatting"
	"github.com/JaimeStill/compass/pkg/handlers"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/routes"
)

var errInvalidID = errors.New("invalid batch id")
var errInvalidBody = errors.New("invalid request body")

// Handler provides HTTP endpoints for ingestion and record queries.
type Handler struct {
	sys           System
	logger        *slog.Logger
	pagination    pagination.Config
	maxRows       int
	maxUploadSize int64
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// NewHandler creates a Handler. A maxUploadSize of zero leaves the ingest body unbounded.
func NewHandler(
	sys System,
	logger *slog.Logger,
	pagination pagination.Config,
	maxRows int,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		sys:           sys,
		logger:        logger.With("handler", "records"),
		pagination:    pagination,
		maxRows:       maxRows,
		maxUploadSize: maxUploadSize,
	}
}

// Routes returns the route group definition for record endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/records",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "POST", Pattern: "/ingest", Handler: h.Ingest},
			{Method: "GET", Pattern: "/unmapped", Handler: h.Unmapped},
			{Method: "GET", Pattern: "/batches", Handler: h.Batches},
			{Method: "GET", Pattern: "/batches/{id}", Handler: h.FindBatch},
			{Method: "GET", Pattern: "/batches/{id}/raw", Handler: h.Raw},
			{Method: "POST", Pattern: "/batches/{id}/renormalize", Handler: h.Renormalize},
			{Method: "DELETE", Pattern: "/batches/{id}", Handler: h.DeleteBatch},
		},
	}
}

// List returns a paginated list of records with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria and returns matching records.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Ingest normalizes and stores a JSON IngestCommand.
// Numbers are decoded as json.Number so cell values keep their precision.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var cmd IngestCommand
	if err := dec.Decode(&cmd); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w (limit %s)", ErrPayloadTooLarge, formatting.FormatBytes(tooLarge.Limit, 1))
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
			return
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	if h.maxRows > 0 && len(cmd.Rows) > h.maxRows {
		err := fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(cmd.Rows), h.maxRows)
		handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
		return
	}

	result, err := h.sys.Ingest(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, result)
}

// Unmapped lists raw labels still unresolved for the dimension query parameter.
func (h *Handler) Unmapped(w http.ResponseWriter, r *http.Request) {
	dim, err := mappings.ParseDimension(r.URL.Query().Get("dimension"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	labels, err := h.sys.Unmapped(r.Context(), dim)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, labels)
}

// Batches returns a paginated list of ingested batches.
func (h *Handler) Batches(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := BatchFiltersFromQuery(r.URL.Query())

	result, err := h.sys.Batches(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// FindBatch returns a single batch by its UUID path parameter.
func (h *Handler) FindBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	b, err := h.sys.FindBatch(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, b)
}

// Raw streams the archived JSON payload of a batch.
func (h *Handler) Raw(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	b, rc, err := h.sys.Raw(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Filename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("raw payload stream interrupted", "id", id, "error", err)
	}
}

// Renormalize rebuilds the records of a batch against the current mappings.
func (h *Handler) Renormalize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	result, err := h.sys.Renormalize(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// DeleteBatch removes a batch, its records and its archived payload.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.sys.DeleteBatch(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
