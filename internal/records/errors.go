package records

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/JaimeStill/compass/pkg/txn"
)

// Domain errors for record operations.
var (
	ErrNotFound        = errors.New("batch not found")
	ErrDuplicate       = errors.New("batch already exists")
	ErrInvalidBatch    = errors.New("invalid batch")
	ErrTooManyRows     = errors.New("batch exceeds maximum row count")
	ErrPayloadTooLarge = errors.New("ingest payload exceeds maximum upload size")
	ErrRawMissing      = errors.New("raw rows not available")
)

// MapHTTPStatus maps record domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRawMissing) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidBatch) || errors.Is(err, mappings.ErrInvalidDimension) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrTooManyRows) || errors.Is(err, ErrPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	if status := storage.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return txn.MapHTTPStatus(err)
}
