package mappings

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "mappings", "m").
	Project("id", "ID").
	Project("dimension", "Dimension").
	Project("canonical_name", "CanonicalName").
	Project("canonical_key", "CanonicalKey").
	Project("labels", "Labels").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var learnedProjection = query.
	NewProjectionMap("public", "learned_mappings", "l").
	Project("id", "ID").
	Project("dimension", "Dimension").
	Project("label", "Label").
	Project("label_key", "LabelKey").
	Project("source", "Source").
	Project("canonical_name", "CanonicalName").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{
	Field: "CanonicalName",
}

var creationSort = query.SortField{
	Field: "CreatedAt",
}

// Filters contains optional filtering criteria for mapping queries.
// Dimension uses exact matching; CanonicalName uses case-insensitive contains matching.
type Filters struct {
	Dimension     *Dimension `json:"dimension,omitempty"`
	CanonicalName *string    `json:"canonical_name,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	var dim *string
	if f.Dimension != nil {
		d := string(*f.Dimension)
		dim = &d
	}
	return b.
		WhereEquals("Dimension", dim).
		WhereContains("CanonicalName", f.CanonicalName)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if d := values.Get("dimension"); d != "" {
		dim := Dimension(d)
		f.Dimension = &dim
	}

	if n := values.Get("canonical_name"); n != "" {
		f.CanonicalName = &n
	}

	return f
}

func scanMapping(s repository.Scanner) (Mapping, error) {
	var m Mapping
	var labelsRaw []byte

	err := s.Scan(
		&m.ID,
		&m.Dimension,
		&m.CanonicalName,
		&m.CanonicalKey,
		&labelsRaw,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}

	if len(labelsRaw) > 0 {
		if err := json.Unmarshal(labelsRaw, &m.Labels); err != nil {
			return m, fmt.Errorf("unmarshal labels: %w", err)
		}
	}

	if m.Labels == nil {
		m.Labels = []SourceLabel{}
	}

	return m, nil
}

func scanLearned(s repository.Scanner) (LearnedMapping, error) {
	var l LearnedMapping
	err := s.Scan(
		&l.ID,
		&l.Dimension,
		&l.Label,
		&l.LabelKey,
		&l.Source,
		&l.CanonicalName,
		&l.CreatedAt,
	)
	return l, err
}
