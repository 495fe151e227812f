package blending

import (
	"maps"
	"strings"

	"github.com/JaimeStill/compass/internal/normalize"
)

// Partition groups records by the key selected in spec, in first-seen order.
func Partition(records []normalize.Record, spec KeySpec) []Group {
	groups := make([]Group, 0)
	index := make(map[Key]int)

	for _, r := range records {
		k := spec.KeyOf(r)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	return groups
}

// Blend combines the records of one group. Method None returns a nil Result.
//
// Each percentile is the sum of value times weight over the records that
// report it. Weights are not renormalized when a record lacks a percentile,
// so sparse reporting lowers that percentile's blended value.
func Blend(key Key, records []normalize.Record, method Method, percentiles []normalize.Percentile) (*Result, error) {
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}
	if method == None {
		return nil, nil
	}
	if len(records) == 0 {
		return nil, ErrEmptyGroup
	}

	res := &Result{
		Key:           key,
		Values:        make(map[normalize.Percentile]float64),
		Contributors:  len(records),
		Contributions: make([]Contribution, len(records)),
		Method:        method,
	}

	for _, r := range records {
		res.Incumbents += r.Incumbents
		res.Organizations += r.Organizations
	}

	weights := equalWeights(len(records))
	if method == IncumbentWeighted {
		if res.Incumbents > 0 {
			for i, r := range records {
				weights[i] = float64(r.Incumbents) / float64(res.Incumbents)
			}
		} else {
			res.Fallback = FallbackZeroIncumbents
		}
	}

	for i, r := range records {
		res.Contributions[i] = Contribution{
			RecordID:      r.ID,
			Year:          r.Year,
			Source:        r.Source,
			Region:        r.Region,
			ProviderType:  r.ProviderType,
			Organizations: r.Organizations,
			Incumbents:    r.Incumbents,
			Values:        maps.Clone(r.Percentiles),
			Weight:        weights[i],
		}
	}

	for _, p := range percentiles {
		var (
			sum      float64
			reported bool
		)
		for i, r := range records {
			if v, ok := r.Value(p); ok {
				sum += v * weights[i]
				reported = true
			}
		}
		if reported {
			res.Values[p] = sum
		}
	}

	return res, nil
}

// Generate builds report rows for the records of req.Metric. Groups with a
// single record, or any group when the method is None, produce one row per
// record; other groups produce one blended row.
func Generate(records []normalize.Record, req Request) ([]Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	percentiles := req.SelectedPercentiles()
	rows := make([]Row, 0)

	for _, g := range Partition(Select(records, req.Metric), req.Group) {
		if req.Method == None || len(g.Records) == 1 {
			for i := range g.Records {
				rows = append(rows, Row{Key: g.Key, Record: &g.Records[i]})
			}
			continue
		}

		res, err := Blend(g.Key, g.Records, req.Method, percentiles)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Key: g.Key, Result: res})
	}

	return rows, nil
}

// Select returns the records whose variable matches metric, ignoring case.
func Select(records []normalize.Record, metric string) []normalize.Record {
	metric = strings.TrimSpace(metric)

	out := make([]normalize.Record, 0, len(records))
	for _, r := range records {
		if strings.EqualFold(r.Variable, metric) {
			out = append(out, r)
		}
	}
	return out
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
