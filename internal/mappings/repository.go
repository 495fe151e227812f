package mappings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
	"github.com/JaimeStill/compass/pkg/txn"
)

var errNotPersisted = errors.New("mapping state not persisted")

type repo struct {
	db                *sql.DB
	txm               *txn.Manager
	registry          atomic.Pointer[Registry]
	loaded            atomic.Bool
	logger            *slog.Logger
	pagination        pagination.Config
	suggestThreshold  float64
	confirmationFloor float64
}

// New creates a mapping repository implementing the System interface.
// The registry starts empty until Load runs.
func New(
	db *sql.DB,
	txm *txn.Manager,
	logger *slog.Logger,
	pagination pagination.Config,
	suggestThreshold float64,
	confirmationFloor float64,
) System {
	r := &repo{
		db:                db,
		txm:               txm,
		logger:            logger.With("system", "mappings"),
		pagination:        pagination,
		suggestThreshold:  suggestThreshold,
		confirmationFloor: confirmationFloor,
	}
	r.registry.Store(EmptyRegistry())
	return r
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := r.Load(lc.Context()); err != nil {
			r.logger.Error("mapping registry load failed", "error", err)
		}
	})
	return nil
}

func (r *repo) Load(ctx context.Context) error {
	return r.txm.WithLock(ctx, Store, txn.ReadWrite, func(ctx context.Context) error {
		mq, margs := query.NewBuilder(projection, creationSort).Build()
		ms, err := repository.QueryMany(ctx, r.db, mq, margs, scanMapping)
		if err != nil {
			return fmt.Errorf("query mappings: %w", err)
		}

		lq, largs := query.NewBuilder(learnedProjection, creationSort).Build()
		ls, err := repository.QueryMany(ctx, r.db, lq, largs, scanLearned)
		if err != nil {
			return fmt.Errorf("query learned mappings: %w", err)
		}

		reg, err := NewRegistry(ms, ls)
		if err != nil {
			return fmt.Errorf("build registry: %w", err)
		}

		r.registry.Store(reg)
		r.loaded.Store(true)
		r.logger.Info("mapping registry loaded", "mappings", len(ms), "learned", len(ls))
		return nil
	})
}

func (r *repo) Ready() bool {
	return r.loaded.Load()
}

func (r *repo) Snapshot() *Registry {
	return r.registry.Load()
}

func (r *repo) Resolve(dim Dimension, label, source string) (string, bool) {
	return r.registry.Load().Resolve(dim, label, source)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Mapping], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "CanonicalName", "CanonicalKey")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanMapping)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	m, err := repository.QueryOne(ctx, r.db, q, args, scanMapping)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &m, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Mapping, error) {
	var created Mapping

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		next, m, err := current.Create(cmd, uuid.New(), now())
		if err != nil {
			return err
		}
		created = m
		return r.commit(ctx, current, next, r.upsertStep(m, nil))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("mapping created",
		"id", created.ID,
		"dimension", created.Dimension,
		"canonical_name", created.CanonicalName,
		"labels", len(created.Labels),
	)
	return &created, nil
}

func (r *repo) AddLabel(ctx context.Context, id uuid.UUID, label SourceLabel) (*Mapping, error) {
	var updated Mapping

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		prev, _ := current.Find(id)
		next, m, err := current.AddLabel(id, label, now())
		if err != nil {
			return err
		}
		updated = m
		return r.commit(ctx, current, next, r.upsertStep(m, &prev))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("mapping label added", "id", id, "label", label.Label, "source", label.Source)
	return &updated, nil
}

func (r *repo) RemoveLabel(ctx context.Context, id uuid.UUID, cmd RemoveLabelCommand) (*Mapping, error) {
	var (
		updated Mapping
		deleted bool
	)

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		prev, _ := current.Find(id)
		next, m, gone, err := current.RemoveLabel(id, cmd, now())
		if err != nil {
			return err
		}
		updated, deleted = m, gone

		if gone {
			return r.commit(ctx, current, next, r.deleteStep(prev))
		}
		return r.commit(ctx, current, next, r.upsertStep(m, &prev))
	})
	if err != nil {
		return nil, err
	}

	if deleted {
		r.logger.Info("mapping deleted with last label", "id", id, "label", cmd.Label)
		return nil, nil
	}

	r.logger.Info("mapping label removed", "id", id, "label", cmd.Label, "source", cmd.Source)
	return &updated, nil
}

func (r *repo) Rename(ctx context.Context, id uuid.UUID, cmd RenameCommand) (*Mapping, error) {
	var updated Mapping

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		prev, _ := current.Find(id)
		next, m, err := current.Rename(id, cmd, now())
		if err != nil {
			return err
		}
		updated = m
		return r.commit(ctx, current, next, r.upsertStep(m, &prev))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("mapping renamed", "id", id, "canonical_name", updated.CanonicalName)
	return &updated, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		next, m, err := current.Remove(id)
		if err != nil {
			return err
		}
		return r.commit(ctx, current, next, r.deleteStep(m))
	})
	if err != nil {
		return err
	}

	r.logger.Info("mapping deleted", "id", id)
	return nil
}

func (r *repo) Suggest(ctx context.Context, req SuggestRequest) ([]Candidate, error) {
	if !req.Dimension.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, req.Dimension)
	}
	if cleanName(req.Label) == "" {
		return nil, ErrInvalidLabel
	}
	threshold, err := r.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	err = r.txm.WithLock(ctx, Store, txn.Read, func(context.Context) error {
		out = r.registry.Load().Suggest(req.Dimension, req.Label, req.Unmapped, threshold, r.confirmationFloor)
		return nil
	})
	return out, err
}

func (r *repo) Cluster(ctx context.Context, req ClusterRequest) ([]Suggestion, error) {
	if !req.Dimension.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, req.Dimension)
	}
	threshold, err := r.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}

	var out []Suggestion
	err = r.txm.WithLock(ctx, Store, txn.Read, func(context.Context) error {
		out = r.registry.Load().Cluster(req.Dimension, req.Unmapped, threshold, r.confirmationFloor)
		return nil
	})
	return out, err
}

func (r *repo) Correct(ctx context.Context, cmd CorrectionCommand) (*LearnedMapping, error) {
	var learned LearnedMapping

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		next, l, prev, err := current.Learn(cmd, uuid.New(), now())
		if err != nil {
			return err
		}
		learned = l
		return r.commit(ctx, current, next, r.learnStep(l, prev))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("correction learned",
		"dimension", learned.Dimension,
		"label", learned.Label,
		"source", learned.Source,
		"canonical_name", learned.CanonicalName,
	)
	return &learned, nil
}

func (r *repo) Learned(ctx context.Context, dim Dimension) ([]LearnedMapping, error) {
	if dim != "" && !dim.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}

	var out []LearnedMapping
	err := r.txm.WithLock(ctx, Store, txn.Read, func(context.Context) error {
		out = r.registry.Load().Learned(dim)
		return nil
	})
	return out, err
}

// ApplyLearned runs through the global transaction queue because it rewrites
// mappings and learned mappings together.
func (r *repo) ApplyLearned(ctx context.Context, dim Dimension) (*ApplyResult, error) {
	if dim != "" && !dim.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}

	var result ApplyResult

	err := r.txm.Enqueue(ctx, func(ctx context.Context) error {
		return r.write(ctx, func(ctx context.Context, current *Registry) error {
			next, p, err := current.Promote(dim, now(), uuid.New)
			if err != nil {
				return err
			}

			result = ApplyResult{
				Mappings: p.Upserted,
				Applied:  p.Applied,
				Skipped:  p.Skipped,
			}
			if len(p.Applied) == 0 {
				return nil
			}

			return r.commit(ctx, current, next,
				r.promoteStep(p),
				r.forgetStep(p.Applied),
			)
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Mappings == nil {
		result.Mappings = []Mapping{}
	}
	if result.Applied == nil {
		result.Applied = []LearnedMapping{}
	}
	if result.Skipped == nil {
		result.Skipped = []SkippedCorrection{}
	}

	r.logger.Info("learned mappings applied",
		"dimension", dim,
		"mappings", len(result.Mappings),
		"applied", len(result.Applied),
		"skipped", len(result.Skipped),
	)
	return &result, nil
}

func (r *repo) ClearLearned(ctx context.Context, dim Dimension) (int, error) {
	if dim != "" && !dim.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}

	var cleared int

	err := r.write(ctx, func(ctx context.Context, current *Registry) error {
		next, removed := current.ClearLearned(dim)
		cleared = len(removed)
		if cleared == 0 {
			return nil
		}
		return r.commit(ctx, current, next, r.forgetStep(removed))
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("learned mappings cleared", "dimension", dim, "count", cleared)
	return cleared, nil
}

func (r *repo) write(ctx context.Context, fn func(ctx context.Context, current *Registry) error) error {
	return r.txm.WithLock(ctx, Store, txn.ReadWrite, func(ctx context.Context) error {
		return fn(ctx, r.registry.Load())
	})
}

// commit runs the persistence steps and then publishes next. If any step
// fails, earlier steps are rolled back and current stays published.
func (r *repo) commit(ctx context.Context, current, next *Registry, steps ...txn.Step) error {
	steps = append(steps, txn.Step{
		Name: "publish registry",
		Execute: func(context.Context) error {
			r.registry.Store(next)
			return nil
		},
		Rollback: func(context.Context) error {
			r.registry.Store(current)
			return nil
		},
	})
	return r.txm.ExecuteAtomic(ctx, steps, txn.AtomicOptions{})
}

func (r *repo) threshold(t *float64) (float64, error) {
	if t == nil {
		return r.suggestThreshold, nil
	}
	if *t < 0 || *t > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidThreshold, *t)
	}
	return *t, nil
}

func (r *repo) upsertStep(m Mapping, prev *Mapping) txn.Step {
	return txn.Step{
		Name: "persist mapping",
		Execute: func(ctx context.Context) error {
			return upsertMapping(ctx, r.db, m)
		},
		Verify: func(ctx context.Context) error {
			return r.verifyMapping(ctx, m.ID, &m.UpdatedAt)
		},
		Rollback: func(ctx context.Context) error {
			if prev == nil {
				return deleteMapping(ctx, r.db, m.ID)
			}
			return upsertMapping(ctx, r.db, *prev)
		},
	}
}

func (r *repo) deleteStep(m Mapping) txn.Step {
	return txn.Step{
		Name: "delete mapping",
		Execute: func(ctx context.Context) error {
			return deleteMapping(ctx, r.db, m.ID)
		},
		Verify: func(ctx context.Context) error {
			return r.verifyMapping(ctx, m.ID, nil)
		},
		Rollback: func(ctx context.Context) error {
			return upsertMapping(ctx, r.db, m)
		},
	}
}

func (r *repo) learnStep(l LearnedMapping, prev *LearnedMapping) txn.Step {
	return txn.Step{
		Name: "persist learned mapping",
		Execute: func(ctx context.Context) error {
			return upsertLearned(ctx, r.db, l)
		},
		Rollback: func(ctx context.Context) error {
			if prev == nil {
				_, err := r.db.ExecContext(ctx, "DELETE FROM learned_mappings WHERE id = $1", l.ID)
				return err
			}
			return upsertLearned(ctx, r.db, *prev)
		},
	}
}

func (r *repo) promoteStep(p Promotion) txn.Step {
	return txn.Step{
		Name: "persist promoted mappings",
		Execute: func(ctx context.Context) error {
			_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
				for _, m := range p.Upserted {
					if err := upsertMapping(ctx, tx, m); err != nil {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			})
			return err
		},
		Rollback: func(ctx context.Context) error {
			_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
				for _, m := range p.Upserted {
					var err error
					if prev, ok := p.Previous[m.ID]; ok {
						err = upsertMapping(ctx, tx, prev)
					} else {
						err = deleteMapping(ctx, tx, m.ID)
					}
					if err != nil {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			})
			return err
		},
	}
}

func (r *repo) forgetStep(learned []LearnedMapping) txn.Step {
	return txn.Step{
		Name: "remove learned mappings",
		Execute: func(ctx context.Context) error {
			_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
				for _, l := range learned {
					if _, err := tx.ExecContext(ctx, "DELETE FROM learned_mappings WHERE id = $1", l.ID); err != nil {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			})
			return err
		},
		Rollback: func(ctx context.Context) error {
			_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
				for _, l := range learned {
					if err := upsertLearned(ctx, tx, l); err != nil {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			})
			return err
		},
	}
}

// verifyMapping checks the persisted row. A nil updatedAt expects the row to be absent.
func (r *repo) verifyMapping(ctx context.Context, id uuid.UUID, updatedAt *time.Time) error {
	var stored time.Time
	err := r.db.QueryRowContext(ctx, "SELECT updated_at FROM mappings WHERE id = $1", id).Scan(&stored)

	switch {
	case updatedAt == nil && errors.Is(err, sql.ErrNoRows):
		return nil
	case updatedAt == nil && err == nil:
		return fmt.Errorf("%w: mapping %s still present", errNotPersisted, id)
	case err != nil:
		return err
	case !stored.Equal(*updatedAt):
		return fmt.Errorf("%w: mapping %s at %s, want %s", errNotPersisted, id, stored, updatedAt)
	}
	return nil
}

func upsertMapping(ctx context.Context, e repository.Executor, m Mapping) error {
	labels, err := json.Marshal(m.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	q := `
		INSERT INTO mappings(id, dimension, canonical_name, canonical_key, labels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			canonical_name = EXCLUDED.canonical_name,
			canonical_key = EXCLUDED.canonical_key,
			labels = EXCLUDED.labels,
			updated_at = EXCLUDED.updated_at`

	_, err = e.ExecContext(ctx, q,
		m.ID,
		string(m.Dimension),
		m.CanonicalName,
		m.CanonicalKey,
		labels,
		m.CreatedAt,
		m.UpdatedAt,
	)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func deleteMapping(ctx context.Context, e repository.Executor, id uuid.UUID) error {
	_, err := e.ExecContext(ctx, "DELETE FROM mappings WHERE id = $1", id)
	return err
}

func upsertLearned(ctx context.Context, e repository.Executor, l LearnedMapping) error {
	q := `
		INSERT INTO learned_mappings(id, dimension, label, label_key, source, source_key, canonical_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dimension, label_key, source_key) DO UPDATE SET
			label = EXCLUDED.label,
			source = EXCLUDED.source,
			canonical_name = EXCLUDED.canonical_name,
			created_at = EXCLUDED.created_at`

	_, err := e.ExecContext(ctx, q,
		l.ID,
		string(l.Dimension),
		l.Label,
		l.LabelKey,
		l.Source,
		sourceKey(l.Source),
		l.CanonicalName,
		l.CreatedAt,
	)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
