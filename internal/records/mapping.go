package records

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "records", "r").
	Project("id", "ID").
	Project("batch_id", "BatchID").
	Project("row_index", "RowIndex").
	Project("specialty", "Specialty").
	Project("provider_type", "ProviderType").
	Project("region", "Region").
	Project("variable", "Variable").
	Project("unmapped", "Unmapped").
	Project("organizations", "Organizations").
	Project("incumbents", "Incumbents").
	Project("percentiles", "Percentiles").
	Project("source", "Source").
	Project("year", "Year").
	Project("created_at", "CreatedAt").
	Join("public", "survey_batches", "b", "JOIN", "r.batch_id = b.id").
	Project("filename", "Filename")

var batchProjection = query.
	NewProjectionMap("public", "survey_batches", "b").
	Project("id", "ID").
	Project("source", "Source").
	Project("year", "Year").
	Project("filename", "Filename").
	Project("row_count", "Rows").
	Project("accepted", "Accepted").
	Project("rejected", "Rejected").
	Project("storage_key", "StorageKey").
	Project("uploaded_at", "UploadedAt")

var defaultSort = []query.SortField{
	{Field: "BatchID"},
	{Field: "RowIndex"},
	{Field: "Variable"},
}

var batchSort = query.SortField{
	Field:      "UploadedAt",
	Descending: true,
}

var dimensionColumns = map[mappings.Dimension]string{
	mappings.Specialty:    "specialty",
	mappings.ProviderType: "provider_type",
	mappings.Region:       "region",
	mappings.Variable:     "variable",
}

// Filters contains optional filtering criteria for record queries.
// Filename uses case-insensitive contains matching and Variable case-insensitive
// equality; every other field is exact.
type Filters struct {
	BatchID      *uuid.UUID `json:"batch_id,omitempty"`
	Specialty    *string    `json:"specialty,omitempty"`
	ProviderType *string    `json:"provider_type,omitempty"`
	Region       *string    `json:"region,omitempty"`
	Variable     *string    `json:"variable,omitempty"`
	Source       *string    `json:"source,omitempty"`
	Year         *int       `json:"year,omitempty"`
	Filename     *string    `json:"filename,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("BatchID", f.BatchID).
		WhereEquals("Specialty", f.Specialty).
		WhereEquals("ProviderType", f.ProviderType).
		WhereEquals("Region", f.Region).
		WhereEqualsFold("Variable", f.Variable).
		WhereEquals("Source", f.Source).
		WhereEquals("Year", f.Year).
		WhereContains("Filename", f.Filename)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if id := values.Get("batch_id"); id != "" {
		if v, err := uuid.Parse(id); err == nil {
			f.BatchID = &v
		}
	}

	for name, dst := range map[string]**string{
		"specialty":     &f.Specialty,
		"provider_type": &f.ProviderType,
		"region":        &f.Region,
		"variable":      &f.Variable,
		"source":        &f.Source,
		"filename":      &f.Filename,
	} {
		if v := values.Get(name); v != "" {
			*dst = &v
		}
	}

	if y := values.Get("year"); y != "" {
		if v, err := strconv.Atoi(y); err == nil {
			f.Year = &v
		}
	}

	return f
}

// BatchFilters contains optional filtering criteria for batch queries.
type BatchFilters struct {
	Source   *string `json:"source,omitempty"`
	Year     *int    `json:"year,omitempty"`
	Filename *string `json:"filename,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f BatchFilters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Source", f.Source).
		WhereEquals("Year", f.Year).
		WhereContains("Filename", f.Filename)
}

// BatchFiltersFromQuery extracts batch filter values from URL query parameters.
func BatchFiltersFromQuery(values url.Values) BatchFilters {
	var f BatchFilters

	if s := values.Get("source"); s != "" {
		f.Source = &s
	}

	if y := values.Get("year"); y != "" {
		if v, err := strconv.Atoi(y); err == nil {
			f.Year = &v
		}
	}

	if fn := values.Get("filename"); fn != "" {
		f.Filename = &fn
	}

	return f
}

func scanEntry(s repository.Scanner) (Entry, error) {
	var (
		e           Entry
		unmapped    []byte
		percentiles []byte
	)

	err := s.Scan(
		&e.ID,
		&e.BatchID,
		&e.RowIndex,
		&e.Specialty,
		&e.ProviderType,
		&e.Region,
		&e.Variable,
		&unmapped,
		&e.Organizations,
		&e.Incumbents,
		&percentiles,
		&e.Source,
		&e.Year,
		&e.CreatedAt,
		&e.Filename,
	)
	if err != nil {
		return e, err
	}

	if err := json.Unmarshal(unmapped, &e.Unmapped); err != nil {
		return e, fmt.Errorf("decode unmapped: %w", err)
	}
	if err := json.Unmarshal(percentiles, &e.Percentiles); err != nil {
		return e, fmt.Errorf("decode percentiles: %w", err)
	}
	return e, nil
}

func scanRecord(s repository.Scanner) (normalize.Record, error) {
	e, err := scanEntry(s)
	return e.Record, err
}

func scanBatch(s repository.Scanner) (Batch, error) {
	var b Batch
	err := s.Scan(
		&b.ID,
		&b.Source,
		&b.Year,
		&b.Filename,
		&b.Rows,
		&b.Accepted,
		&b.Rejected,
		&b.StorageKey,
		&b.UploadedAt,
	)
	return b, err
}

func scanRawRow(s repository.Scanner) (normalize.RawRow, error) {
	var data []byte
	if err := s.Scan(&data); err != nil {
		return nil, err
	}
	return decodeRow(data)
}
