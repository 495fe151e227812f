// Package mappings implements the canonical-name registry for survey vocabularies.
// It resolves raw specialty, region, provider type and metric labels to
// standardized names, remembers manual corrections as learned mappings, and
// proposes groupings for unmapped labels by similarity.
package mappings

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dimension names the vocabulary a label belongs to.
// Each dimension has its own canonical namespace.
type Dimension string

const (
	Specialty    Dimension = "specialty"
	Region       Dimension = "region"
	ProviderType Dimension = "provider_type"
	Variable     Dimension = "variable"
)

// Dimensions lists every supported dimension in display order.
var Dimensions = []Dimension{Specialty, ProviderType, Region, Variable}

// Valid reports whether d is a supported dimension.
func (d Dimension) Valid() bool {
	switch d {
	case Specialty, Region, ProviderType, Variable:
		return true
	}
	return false
}

// ParseDimension validates s as a Dimension.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDimension, s)
	}
	return d, nil
}

// SourceLabel is one raw label observed in a source, owned by a single Mapping.
// Frequency is advisory and only used for ordering.
type SourceLabel struct {
	Label     string `json:"label"`
	Source    string `json:"source"`
	Original  string `json:"original"`
	Frequency int    `json:"frequency"`
}

// Mapping is a standardized name and the raw labels that resolve to it.
type Mapping struct {
	ID            uuid.UUID     `json:"id"`
	Dimension     Dimension     `json:"dimension"`
	CanonicalName string        `json:"canonical_name"`
	CanonicalKey  string        `json:"canonical_key"`
	Labels        []SourceLabel `json:"labels"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LearnedMapping is a remembered single correction from a raw label to a
// canonical name. An empty Source applies to every source.
type LearnedMapping struct {
	ID            uuid.UUID `json:"id"`
	Dimension     Dimension `json:"dimension"`
	Label         string    `json:"label"`
	LabelKey      string    `json:"label_key"`
	Source        string    `json:"source"`
	CanonicalName string    `json:"canonical_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// UnmappedLabel is a raw label with no mapping, as surfaced to callers.
type UnmappedLabel struct {
	Dimension Dimension `json:"dimension"`
	Label     string    `json:"label"`
	Source    string    `json:"source"`
	Frequency int       `json:"frequency"`
}

// CreateCommand carries the data needed to create a mapping.
type CreateCommand struct {
	Dimension     Dimension     `json:"dimension"`
	CanonicalName string        `json:"canonical_name"`
	Labels        []SourceLabel `json:"labels"`
}

// RemoveLabelCommand identifies a label to detach from a mapping.
type RemoveLabelCommand struct {
	Label  string `json:"label"`
	Source string `json:"source"`
}

// RenameCommand carries a new canonical name.
type RenameCommand struct {
	CanonicalName string `json:"canonical_name"`
}

// CorrectionCommand records a manual correction as a learned mapping.
type CorrectionCommand struct {
	Dimension     Dimension `json:"dimension"`
	Label         string    `json:"label"`
	Source        string    `json:"source"`
	CanonicalName string    `json:"canonical_name"`
}

// Candidate is a ranked suggestion for a single raw label.
type Candidate struct {
	Name                 string     `json:"name"`
	Kind                 string     `json:"kind"`
	MappingID            *uuid.UUID `json:"mapping_id,omitempty"`
	Confidence           float64    `json:"confidence"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
}

// Candidate kinds.
const (
	CandidateCanonical = "canonical"
	CandidateUnmapped  = "unmapped"
)

// Suggestion is a proposed grouping of unmapped labels under one canonical name.
// MappingID is set when the proposal is an existing mapping.
type Suggestion struct {
	CanonicalName        string          `json:"canonical_name"`
	MappingID            *uuid.UUID      `json:"mapping_id,omitempty"`
	Members              []UnmappedLabel `json:"members"`
	Confidence           float64         `json:"confidence"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

// SuggestRequest asks for candidates for one raw label.
// A nil Threshold uses the configured default.
type SuggestRequest struct {
	Dimension Dimension       `json:"dimension"`
	Label     string          `json:"label"`
	Unmapped  []UnmappedLabel `json:"unmapped"`
	Threshold *float64        `json:"threshold,omitempty"`
}

// ClusterRequest asks for groupings over a set of unmapped labels.
type ClusterRequest struct {
	Dimension Dimension       `json:"dimension"`
	Unmapped  []UnmappedLabel `json:"unmapped"`
	Threshold *float64        `json:"threshold,omitempty"`
}

// SkippedCorrection is a learned mapping that could not be promoted.
type SkippedCorrection struct {
	Learned LearnedMapping `json:"learned"`
	Reason  string         `json:"reason"`
}

// ApplyResult reports the outcome of promoting learned mappings.
type ApplyResult struct {
	Mappings []Mapping           `json:"mappings"`
	Applied  []LearnedMapping    `json:"applied"`
	Skipped  []SkippedCorrection `json:"skipped"`
}
