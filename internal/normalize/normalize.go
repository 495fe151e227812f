// Package normalize turns wide survey rows into canonical long-format records.
//
// A raw row carries one specialty, provider type and region plus a column per
// (metric, percentile) pair under any of several naming conventions. Each
// metric with at least one reported percentile becomes one Record. Identity
// fields are resolved to canonical names; unresolved values are kept as
// written and listed in Record.Unmapped.
package normalize

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
)

// Percentile is a tracked percentile rank.
type Percentile int

const (
	P10 Percentile = 10
	P25 Percentile = 25
	P50 Percentile = 50
	P75 Percentile = 75
	P90 Percentile = 90
)

// Percentiles lists every tracked percentile in ascending order.
var Percentiles = []Percentile{P10, P25, P50, P75, P90}

// Valid reports whether p is a tracked percentile.
func (p Percentile) Valid() bool {
	switch p {
	case P10, P25, P50, P75, P90:
		return true
	}
	return false
}

// RawRow is a flat key/value record exactly as supplied by the caller.
type RawRow map[string]any

// Origin identifies where a row came from.
type Origin struct {
	BatchID uuid.UUID
	Source  string
	Year    int
}

// Record is one metric of one raw row after canonicalization.
// Percentiles holds only the values the source actually reported.
type Record struct {
	ID            uuid.UUID              `json:"id"`
	BatchID       uuid.UUID              `json:"batch_id"`
	RowIndex      int                    `json:"row_index"`
	Specialty     string                 `json:"specialty"`
	ProviderType  string                 `json:"provider_type"`
	Region        string                 `json:"region"`
	Variable      string                 `json:"variable"`
	Unmapped      []mappings.Dimension   `json:"unmapped"`
	Organizations int                    `json:"organizations"`
	Incumbents    int                    `json:"incumbents"`
	Percentiles   map[Percentile]float64 `json:"percentiles"`
	Source        string                 `json:"source"`
	Year          int                    `json:"year"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Value returns the reported value for p.
func (r Record) Value(p Percentile) (float64, bool) {
	v, ok := r.Percentiles[p]
	return v, ok
}

// Label returns the stored value of an identity dimension.
func (r Record) Label(dim mappings.Dimension) string {
	switch dim {
	case mappings.Specialty:
		return r.Specialty
	case mappings.ProviderType:
		return r.ProviderType
	case mappings.Region:
		return r.Region
	case mappings.Variable:
		return r.Variable
	}
	return ""
}

// Rejection describes a raw row that failed validation.
type Rejection struct {
	Index  int      `json:"index"`
	Row    RawRow   `json:"row"`
	Reason string   `json:"reason"`
	Fields []string `json:"fields,omitempty"`
}

// BatchResult collects the outcome of normalizing many rows.
// Accepted records keep input row order.
type BatchResult struct {
	Accepted []Record    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}
