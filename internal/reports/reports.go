// Package reports generates blended reports from stored survey records.
// Records are read through the record store's read lock, narrowed to the
// requested metric, partitioned and blended by the blending package.
package reports

import (
	"time"

	"github.com/JaimeStill/compass/internal/blending"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/internal/records"
)

// Request selects the records of a report and how they are combined.
type Request struct {
	blending.Request
	Filters records.Filters `json:"filters"`
}

// ExplainRequest identifies one group of a report.
type ExplainRequest struct {
	Request
	Key blending.Key `json:"key"`
}

// Report is a generated set of report rows.
type Report struct {
	Metric      string          `json:"metric"`
	Method      blending.Method `json:"method"`
	Records     int             `json:"records"`
	Rows        []blending.Row  `json:"rows"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Explanation breaks one report group down to the records behind it.
// Result is nil when the method is None.
type Explanation struct {
	Key     blending.Key       `json:"key"`
	Method  blending.Method    `json:"method"`
	Result  *blending.Result   `json:"result,omitempty"`
	Records []normalize.Record `json:"records"`
}
