package mappings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/handlers"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/routes"
)

var errInvalidID = errors.New("invalid mapping id")
var errInvalidBody = errors.New("invalid request body")

// Handler provides HTTP endpoints for mapping operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// ResolveResponse is the result of resolving a single raw label.
type ResolveResponse struct {
	Dimension     Dimension `json:"dimension"`
	Label         string    `json:"label"`
	Source        string    `json:"source"`
	CanonicalName string    `json:"canonical_name,omitempty"`
	Mapped        bool      `json:"mapped"`
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "mappings"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for mapping endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/mappings",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "", Handler: h.Create},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "GET", Pattern: "/resolve", Handler: h.Resolve},
			{Method: "POST", Pattern: "/suggest", Handler: h.Suggest},
			{Method: "POST", Pattern: "/cluster", Handler: h.Cluster},
			{Method: "POST", Pattern: "/corrections", Handler: h.Correct},
			{Method: "GET", Pattern: "/learned", Handler: h.Learned},
			{Method: "POST", Pattern: "/learned/apply", Handler: h.ApplyLearned},
			{Method: "DELETE", Pattern: "/learned", Handler: h.ClearLearned},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "PUT", Pattern: "/{id}", Handler: h.Rename},
			{Method: "DELETE", Pattern: "/{id}", Handler: h.Delete},
			{Method: "POST", Pattern: "/{id}/labels", Handler: h.AddLabel},
			{Method: "DELETE", Pattern: "/{id}/labels", Handler: h.RemoveLabel},
		},
	}
}

// List returns a paginated list of mappings with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria and returns matching mappings.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single mapping by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	m, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, m)
}

// Create adds a mapping from a JSON CreateCommand.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd CreateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	m, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, m)
}

// Rename changes the canonical name of a mapping.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd RenameCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	m, err := h.sys.Rename(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, m)
}

// Delete removes a mapping by its UUID path parameter.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.sys.Delete(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddLabel attaches a source label to a mapping.
func (h *Handler) AddLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var label SourceLabel
	if err := json.NewDecoder(r.Body).Decode(&label); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	m, err := h.sys.AddLabel(r.Context(), id, label)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, m)
}

// RemoveLabel detaches a source label from a mapping. When the last label is
// removed the mapping is deleted and 204 is returned.
func (h *Handler) RemoveLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var cmd RemoveLabelCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	m, err := h.sys.RemoveLabel(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if m == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, m)
}

// Resolve looks up the canonical name for the dimension, label, and source query parameters.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	dim, err := ParseDimension(q.Get("dimension"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	label := q.Get("label")
	if cleanName(label) == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidLabel)
		return
	}

	resp := ResolveResponse{
		Dimension: dim,
		Label:     label,
		Source:    q.Get("source"),
	}
	resp.CanonicalName, resp.Mapped = h.sys.Resolve(dim, label, resp.Source)

	handlers.RespondJSON(w, http.StatusOK, resp)
}

// Suggest ranks candidate canonical names for a single raw label.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	candidates, err := h.sys.Suggest(r.Context(), req)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, candidates)
}

// Cluster proposes groupings for a set of unmapped labels.
func (h *Handler) Cluster(w http.ResponseWriter, r *http.Request) {
	var req ClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	suggestions, err := h.sys.Cluster(r.Context(), req)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, suggestions)
}

// Correct records a manual correction as a learned mapping.
func (h *Handler) Correct(w http.ResponseWriter, r *http.Request) {
	var cmd CorrectionCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidBody)
		return
	}

	l, err := h.sys.Correct(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, l)
}

// Learned lists learned mappings, optionally filtered by the dimension query parameter.
func (h *Handler) Learned(w http.ResponseWriter, r *http.Request) {
	learned, err := h.sys.Learned(r.Context(), Dimension(r.URL.Query().Get("dimension")))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, learned)
}

// ApplyLearned promotes learned mappings into full mappings.
func (h *Handler) ApplyLearned(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.ApplyLearned(r.Context(), Dimension(r.URL.Query().Get("dimension")))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// ClearLearned discards learned mappings, optionally for one dimension.
func (h *Handler) ClearLearned(w http.ResponseWriter, r *http.Request) {
	n, err := h.sys.ClearLearned(r.Context(), Dimension(r.URL.Query().Get("dimension")))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
