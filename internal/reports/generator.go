package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/compass/internal/blending"
	"github.com/JaimeStill/compass/internal/normalize"
	"github.com/JaimeStill/compass/internal/records"
)

// Source reads the records a report is built from.
type Source interface {
	Query(ctx context.Context, filters records.Filters) ([]normalize.Record, error)
}

type generator struct {
	source   Source
	resolver normalize.Resolver
	logger   *slog.Logger
}

// New creates a report generator implementing the System interface.
// Requested metrics are canonicalized through resolver before records are loaded.
func New(source Source, resolver normalize.Resolver, logger *slog.Logger) System {
	return &generator{
		source:   source,
		resolver: resolver,
		logger:   logger.With("system", "reports"),
	}
}

func (g *generator) Handler() *Handler {
	return NewHandler(g, g.logger)
}

func (g *generator) Generate(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	recs, err := g.load(ctx, &req)
	if err != nil {
		return nil, err
	}

	rows, err := blending.Generate(recs, req.Request)
	if err != nil {
		return nil, err
	}

	g.logger.Info("report generated",
		"metric", req.Metric,
		"method", req.Method,
		"records", len(recs),
		"rows", len(rows),
	)

	return &Report{
		Metric:      req.Metric,
		Method:      req.Method,
		Records:     len(recs),
		Rows:        rows,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (g *generator) Explain(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	recs, err := g.load(ctx, &req.Request)
	if err != nil {
		return nil, err
	}

	for _, grp := range blending.Partition(blending.Select(recs, req.Metric), req.Group) {
		if grp.Key != req.Key {
			continue
		}

		res, err := blending.Blend(grp.Key, grp.Records, req.Method, req.SelectedPercentiles())
		if err != nil {
			return nil, err
		}

		return &Explanation{
			Key:     grp.Key,
			Method:  req.Method,
			Result:  res,
			Records: grp.Records,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, req.Key)
}

// load replaces req.Metric with its canonical variable and reads only the
// records of that variable.
func (g *generator) load(ctx context.Context, req *Request) ([]normalize.Record, error) {
	req.Metric = normalize.CanonicalVariable(g.resolver, req.Metric)

	filters := req.Filters
	filters.Variable = &req.Metric

	recs, err := g.source.Query(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return recs, nil
}
