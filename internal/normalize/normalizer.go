package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/pkg/formatting"
)

// Resolver looks up canonical names for raw labels.
// mappings.System and *mappings.Registry both satisfy it.
type Resolver interface {
	Resolve(dim mappings.Dimension, label, source string) (string, bool)
}

// Normalizer converts raw rows into records using a Resolver.
type Normalizer struct {
	resolver Resolver
	workers  int
	logger   *slog.Logger
}

// New creates a Normalizer. Workers bounds NormalizeBatch concurrency.
func New(resolver Resolver, workers int, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		workers:  max(workers, 1),
		logger:   logger.With("system", "normalize"),
	}
}

type metricCells struct {
	name          string
	percentiles   map[Percentile]float64
	organizations *int
	incumbents    *int
}

// Normalize converts one raw row into zero or more records, one per metric
// with at least one reported percentile. Rows missing specialty, provider
// type, or region return a *ValidationError.
func (n *Normalizer) Normalize(row RawRow, index int, origin Origin) ([]Record, error) {
	var (
		identity = map[columnKind]string{}
		orgs     *int
		incs     *int
		metrics  = map[string]*metricCells{}
	)

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		col := classify(k)
		v := row[k]

		switch col.kind {
		case columnSpecialty, columnProviderType, columnRegion:
			if _, seen := identity[col.kind]; !seen {
				if s := cellText(v); s != "" {
					identity[col.kind] = s
				}
			}
		case columnOrganizations:
			if orgs == nil {
				orgs = sampleSize(v)
			}
		case columnIncumbents:
			if incs == nil {
				incs = sampleSize(v)
			}
		case columnMetric:
			m := cells(metrics, col.metric)
			if _, seen := m.percentiles[col.percentile]; seen {
				continue
			}
			if f, ok := formatting.ParseAny(v); ok {
				m.percentiles[col.percentile] = f
			}
		case columnMetricOrganizations:
			m := cells(metrics, col.metric)
			if m.organizations == nil {
				m.organizations = sampleSize(v)
			}
		case columnMetricIncumbents:
			m := cells(metrics, col.metric)
			if m.incumbents == nil {
				m.incumbents = sampleSize(v)
			}
		}
	}

	var missing []string
	for _, f := range []struct {
		kind columnKind
		name string
	}{
		{columnSpecialty, "specialty"},
		{columnProviderType, "provider_type"},
		{columnRegion, "region"},
	} {
		if identity[f.kind] == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	base := Record{
		BatchID:  origin.BatchID,
		RowIndex: index,
		Source:   origin.Source,
		Year:     origin.Year,
	}

	var unmapped []mappings.Dimension
	base.Specialty, unmapped = n.resolve(mappings.Specialty, identity[columnSpecialty], origin.Source, unmapped)
	base.ProviderType, unmapped = n.resolve(mappings.ProviderType, identity[columnProviderType], origin.Source, unmapped)
	base.Region, unmapped = n.resolve(mappings.Region, identity[columnRegion], origin.Source, unmapped)

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	slices.Sort(names)

	now := time.Now().UTC()
	records := make([]Record, 0, len(names))

	for _, name := range names {
		m := metrics[name]
		if len(m.percentiles) == 0 {
			continue
		}

		rec := base
		rec.ID = uuid.New()
		rec.CreatedAt = now
		rec.Percentiles = m.percentiles
		rec.Organizations = valueOr(m.organizations, orgs)
		rec.Incumbents = valueOr(m.incumbents, incs)

		rec.Unmapped = slices.Clone(unmapped)
		var metricUnmapped bool
		rec.Variable, metricUnmapped = n.variable(m.name, origin.Source)
		if metricUnmapped {
			rec.Unmapped = append(rec.Unmapped, mappings.Variable)
		}
		if rec.Unmapped == nil {
			rec.Unmapped = []mappings.Dimension{}
		}

		records = append(records, rec)
	}

	return records, nil
}

// NormalizeBatch normalizes rows concurrently with a bounded worker pool.
// Invalid rows are collected as rejections and never stop the batch; only
// context cancellation returns an error.
func (n *Normalizer) NormalizeBatch(ctx context.Context, rows []RawRow, origin Origin) (*BatchResult, error) {
	type outcome struct {
		records []Record
		err     error
	}

	results := make([]outcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(n.workers, max(len(rows), 1)))

	for i := range rows {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			recs, err := n.Normalize(rows[i], i, origin)
			results[i] = outcome{records: recs, err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("normalize batch: %w", err)
	}

	out := &BatchResult{
		Accepted: make([]Record, 0, len(rows)),
		Rejected: make([]Rejection, 0),
	}

	for i, r := range results {
		if r.err != nil {
			rej := Rejection{Index: i, Row: rows[i], Reason: r.err.Error()}
			var ve *ValidationError
			if errors.As(r.err, &ve) {
				rej.Fields = ve.Fields
			}
			out.Rejected = append(out.Rejected, rej)
			continue
		}
		out.Accepted = append(out.Accepted, r.records...)
	}

	n.logger.Info("batch normalized",
		"source", origin.Source,
		"year", origin.Year,
		"rows", len(rows),
		"records", len(out.Accepted),
		"rejected", len(out.Rejected),
	)

	return out, nil
}

func (n *Normalizer) resolve(dim mappings.Dimension, raw, source string, unmapped []mappings.Dimension) (string, []mappings.Dimension) {
	if name, ok := n.resolver.Resolve(dim, raw, source); ok {
		return name, unmapped
	}
	return raw, append(unmapped, dim)
}

// variable resolves a metric name through the variable dimension, then the
// built-in aliases. Unknown metrics are kept as written and reported unmapped.
func (n *Normalizer) variable(metric, source string) (string, bool) {
	label := strings.ReplaceAll(metric, "_", " ")
	if name, ok := n.resolver.Resolve(mappings.Variable, label, source); ok {
		return name, false
	}
	if name, ok := n.resolver.Resolve(mappings.Variable, metric, source); ok {
		return name, false
	}
	if name, ok := canonicalMetric(metric); ok {
		return name, false
	}
	return metric, true
}

// CanonicalVariable maps a requested metric to the variable stored on records:
// the variable dimension of r first, then the built-in aliases. Unknown
// metrics are returned in column form. r may be nil.
func CanonicalVariable(r Resolver, metric string) string {
	c := canonicalColumn(metric)
	if c == "" {
		return strings.TrimSpace(metric)
	}

	if r == nil {
		if name, ok := canonicalMetric(c); ok {
			return name
		}
		return c
	}

	n := &Normalizer{resolver: r}
	name, _ := n.variable(c, "")
	return name
}

// cells groups columns by metric. Known aliases share one group; the first
// spelling seen is kept for resolution.
func cells(metrics map[string]*metricCells, name string) *metricCells {
	key := name
	if alias, ok := canonicalMetric(name); ok {
		key = alias
	}

	m, ok := metrics[key]
	if !ok {
		m = &metricCells{name: name, percentiles: make(map[Percentile]float64)}
		metrics[key] = m
	}
	return m
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func sampleSize(v any) *int {
	f, ok := formatting.ParseAny(v)
	if !ok || f < 0 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func valueOr(primary, fallback *int) int {
	switch {
	case primary != nil:
		return *primary
	case fallback != nil:
		return *fallback
	}
	return 0
}
