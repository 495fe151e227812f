// Package blending combines normalized records into per-group report values.
//
// Records are partitioned by specialty plus any of region, provider type,
// source and year. Each group is either passed through as individual records
// or blended into a single Result by simple or incumbent-weighted averaging.
// Every Result carries the contributions that produced it so the computation
// can be explained without going back to the record store.
package blending

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/normalize"
)

// Method selects how a group is combined.
type Method string

const (
	None              Method = "none"
	SimpleAverage     Method = "simple_average"
	IncumbentWeighted Method = "incumbent_weighted"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case None, SimpleAverage, IncumbentWeighted:
		return true
	}
	return false
}

// FallbackZeroIncumbents marks an incumbent-weighted blend that fell back to
// equal weights because its group reported no incumbents.
const FallbackZeroIncumbents = "zero_incumbents"

// KeySpec selects the optional dimensions that distinguish groups.
// Specialty is always part of the key.
type KeySpec struct {
	Region       bool `json:"region"`
	ProviderType bool `json:"provider_type"`
	Source       bool `json:"source"`
	Year         bool `json:"year"`
}

// Key identifies one group. Fields outside the KeySpec are empty.
type Key struct {
	Specialty    string `json:"specialty"`
	Region       string `json:"region,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
	Source       string `json:"source,omitempty"`
	Year         int    `json:"year,omitempty"`
}

// KeyOf returns the group key of r under s.
func (s KeySpec) KeyOf(r normalize.Record) Key {
	k := Key{Specialty: r.Specialty}
	if s.Region {
		k.Region = r.Region
	}
	if s.ProviderType {
		k.ProviderType = r.ProviderType
	}
	if s.Source {
		k.Source = r.Source
	}
	if s.Year {
		k.Year = r.Year
	}
	return k
}

func (k Key) String() string {
	parts := []string{k.Specialty}
	if k.Region != "" {
		parts = append(parts, k.Region)
	}
	if k.ProviderType != "" {
		parts = append(parts, k.ProviderType)
	}
	if k.Source != "" {
		parts = append(parts, k.Source)
	}
	if k.Year != 0 {
		parts = append(parts, strconv.Itoa(k.Year))
	}
	return strings.Join(parts, " / ")
}

// Group is a partition of records sharing one Key.
type Group struct {
	Key     Key                `json:"key"`
	Records []normalize.Record `json:"records"`
}

// Contribution is one record's share of a blended Result.
type Contribution struct {
	RecordID      uuid.UUID                        `json:"record_id"`
	Year          int                              `json:"year"`
	Source        string                           `json:"source"`
	Region        string                           `json:"region"`
	ProviderType  string                           `json:"provider_type"`
	Organizations int                              `json:"organizations"`
	Incumbents    int                              `json:"incumbents"`
	Values        map[normalize.Percentile]float64 `json:"values"`
	Weight        float64                          `json:"weight"`
}

// Result is the blended value of one group.
// Values holds only percentiles reported by at least one contributor.
type Result struct {
	Key           Key                              `json:"key"`
	Values        map[normalize.Percentile]float64 `json:"values"`
	Incumbents    int                              `json:"incumbents"`
	Organizations int                              `json:"organizations"`
	Contributors  int                              `json:"contributors"`
	Contributions []Contribution                   `json:"contributions"`
	Method        Method                           `json:"method"`
	Fallback      string                           `json:"fallback,omitempty"`
}

// Request describes a report over one metric.
// Empty Percentiles selects every tracked percentile.
type Request struct {
	Group       KeySpec                `json:"group"`
	Metric      string                 `json:"metric"`
	Percentiles []normalize.Percentile `json:"percentiles"`
	Method      Method                 `json:"method"`
}

// Row is one line of a generated report: either a pass-through record or a
// blended result.
type Row struct {
	Key    Key               `json:"key"`
	Record *normalize.Record `json:"record,omitempty"`
	Result *Result           `json:"result,omitempty"`
}

// Validate checks the metric, method and percentiles of r.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Metric) == "" {
		return ErrMetricRequired
	}
	if !r.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, r.Method)
	}
	for _, p := range r.Percentiles {
		if !p.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidPercentile, p)
		}
	}
	return nil
}

// SelectedPercentiles returns the requested percentiles, or every tracked
// percentile when none were requested.
func (r Request) SelectedPercentiles() []normalize.Percentile {
	if len(r.Percentiles) == 0 {
		return normalize.Percentiles
	}
	return r.Percentiles
}
