package mappings

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/compass/pkg/txn"
)

// Domain errors for mapping operations.
var (
	ErrNotFound         = errors.New("mapping not found")
	ErrDuplicate        = errors.New("mapping already exists")
	ErrLabelConflict    = errors.New("label already mapped to another canonical name")
	ErrLabelNotFound    = errors.New("label not found on mapping")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrEmptyLabels      = errors.New("mapping requires at least one source label")
	ErrInvalidName      = errors.New("canonical name must not be empty")
	ErrInvalidLabel     = errors.New("label must not be empty")
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")
)

// MapHTTPStatus maps mapping domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLabelNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrLabelConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidDimension),
		errors.Is(err, ErrEmptyLabels),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidLabel),
		errors.Is(err, ErrInvalidThreshold):
		return http.StatusBadRequest
	}
	return txn.MapHTTPStatus(err)
}
