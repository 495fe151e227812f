package reports

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/compass/internal/blending"
	"github.com/JaimeStill/compass/internal/records"
)

// ErrGroupNotFound is returned when no records fall in the requested group.
var ErrGroupNotFound = errors.New("report group not found")

// MapHTTPStatus maps report errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, blending.ErrInvalidMethod),
		errors.Is(err, blending.ErrInvalidPercentile),
		errors.Is(err, blending.ErrMetricRequired):
		return http.StatusBadRequest
	}
	return records.MapHTTPStatus(err)
}
