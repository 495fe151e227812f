package mappings

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/pagination"
)

// Store is the lock name guarding the mapping registry.
const Store = "mappings"

// System defines the public contract for mapping domain operations.
type System interface {
	Handler() *Handler

	// Start registers a startup hook that loads the registry from the database.
	Start(lc *lifecycle.Coordinator) error
	// Load replaces the in-memory registry with the persisted state.
	Load(ctx context.Context) error
	// Ready reports whether the registry has been loaded at least once.
	Ready() bool
	// Snapshot returns the currently published registry.
	Snapshot() *Registry
	// Resolve looks a raw label up in the currently published registry.
	Resolve(dim Dimension, label, source string) (string, bool)

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Mapping], error)

	Find(ctx context.Context, id uuid.UUID) (*Mapping, error)
	Create(ctx context.Context, cmd CreateCommand) (*Mapping, error)
	AddLabel(ctx context.Context, id uuid.UUID, label SourceLabel) (*Mapping, error)
	// RemoveLabel returns nil when the last label was removed and the mapping deleted.
	RemoveLabel(ctx context.Context, id uuid.UUID, cmd RemoveLabelCommand) (*Mapping, error)
	Rename(ctx context.Context, id uuid.UUID, cmd RenameCommand) (*Mapping, error)
	Delete(ctx context.Context, id uuid.UUID) error

	Suggest(ctx context.Context, req SuggestRequest) ([]Candidate, error)
	Cluster(ctx context.Context, req ClusterRequest) ([]Suggestion, error)

	Correct(ctx context.Context, cmd CorrectionCommand) (*LearnedMapping, error)
	Learned(ctx context.Context, dim Dimension) ([]LearnedMapping, error)
	ApplyLearned(ctx context.Context, dim Dimension) (*ApplyResult, error)
	ClearLearned(ctx context.Context, dim Dimension) (int, error)
}
