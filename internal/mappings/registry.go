package mappings

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/similarity"
)

type labelKey struct {
	dim Dimension
	key string
}

type learnedKey struct {
	dim    Dimension
	key    string
	source string
}

// Registry is an immutable snapshot of every mapping and learned mapping.
// Mappings live in an arena keyed by id; a flat index maps each normalized
// label and canonical name to the owning mapping. Mutations build a new
// Registry and never modify a published one.
type Registry struct {
	mappings     map[uuid.UUID]Mapping
	order        []uuid.UUID
	index        map[labelKey]uuid.UUID
	names        map[labelKey]uuid.UUID
	learned      map[learnedKey]LearnedMapping
	learnedOrder []learnedKey
}

// NewRegistry builds a Registry, rejecting label and name collisions.
func NewRegistry(mappings []Mapping, learned []LearnedMapping) (*Registry, error) {
	r := &Registry{
		mappings:     make(map[uuid.UUID]Mapping, len(mappings)),
		order:        make([]uuid.UUID, 0, len(mappings)),
		index:        make(map[labelKey]uuid.UUID),
		names:        make(map[labelKey]uuid.UUID, len(mappings)),
		learned:      make(map[learnedKey]LearnedMapping, len(learned)),
		learnedOrder: make([]learnedKey, 0, len(learned)),
	}

	for _, m := range mappings {
		if err := r.insert(m); err != nil {
			return nil, err
		}
	}

	for _, l := range learned {
		k := learnedKey{dim: l.Dimension, key: l.LabelKey, source: sourceKey(l.Source)}
		if _, ok := r.learned[k]; !ok {
			r.learnedOrder = append(r.learnedOrder, k)
		}
		r.learned[k] = l
	}

	return r, nil
}

// EmptyRegistry returns a Registry with no entries.
func EmptyRegistry() *Registry {
	r, _ := NewRegistry(nil, nil)
	return r
}

func (r *Registry) insert(m Mapping) error {
	if _, exists := r.mappings[m.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, m.ID)
	}

	nk := labelKey{dim: m.Dimension, key: m.CanonicalKey}
	if _, exists := r.names[nk]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, m.Dimension, m.CanonicalName)
	}
	if owner, exists := r.index[nk]; exists && owner != m.ID {
		return fmt.Errorf("%w: %q belongs to %q", ErrLabelConflict, m.CanonicalName, r.mappings[owner].CanonicalName)
	}

	for _, l := range m.Labels {
		lk := labelKey{dim: m.Dimension, key: similarity.Key(l.Label)}
		if owner, exists := r.index[lk]; exists && owner != m.ID {
			return fmt.Errorf("%w: %q belongs to %q", ErrLabelConflict, l.Label, r.mappings[owner].CanonicalName)
		}
	}

	r.mappings[m.ID] = m
	r.order = append(r.order, m.ID)
	r.names[nk] = m.ID
	r.index[nk] = m.ID
	for _, l := range m.Labels {
		r.index[labelKey{dim: m.Dimension, key: similarity.Key(l.Label)}] = m.ID
	}

	return nil
}

// Resolve returns the canonical name for a raw label from source.
// Learned mappings scoped to source are checked first, then learned mappings
// for any source, then the label index. A learned mapping only resolves when a
// mapping with its canonical name exists. The boolean is false when the label
// is unmapped.
func (r *Registry) Resolve(dim Dimension, label, source string) (string, bool) {
	key := similarity.Key(label)
	if key == "" {
		return "", false
	}

	for _, scope := range []string{sourceKey(source), ""} {
		l, ok := r.learned[learnedKey{dim: dim, key: key, source: scope}]
		if !ok {
			continue
		}
		if m, ok := r.ByName(dim, l.CanonicalName); ok {
			return m.CanonicalName, true
		}
	}

	if id, ok := r.index[labelKey{dim: dim, key: key}]; ok {
		return r.mappings[id].CanonicalName, true
	}

	return "", false
}

// Find returns the mapping with the given id.
func (r *Registry) Find(id uuid.UUID) (Mapping, bool) {
	m, ok := r.mappings[id]
	return m, ok
}

// ByName returns the mapping whose canonical name normalizes to the same key as name.
func (r *Registry) ByName(dim Dimension, name string) (Mapping, bool) {
	id, ok := r.names[labelKey{dim: dim, key: similarity.Key(name)}]
	if !ok {
		return Mapping{}, false
	}
	return r.mappings[id], true
}

// Owner returns the mapping that a raw label or canonical name belongs to.
func (r *Registry) Owner(dim Dimension, label string) (Mapping, bool) {
	id, ok := r.index[labelKey{dim: dim, key: similarity.Key(label)}]
	if !ok {
		return Mapping{}, false
	}
	return r.mappings[id], true
}

// Mappings returns the mappings of dim in creation order. An empty dim returns all.
func (r *Registry) Mappings(dim Dimension) []Mapping {
	out := make([]Mapping, 0, len(r.order))
	for _, id := range r.order {
		m := r.mappings[id]
		if dim == "" || m.Dimension == dim {
			out = append(out, m)
		}
	}
	return out
}

// Learned returns the learned mappings of dim in creation order. An empty dim returns all.
func (r *Registry) Learned(dim Dimension) []LearnedMapping {
	out := make([]LearnedMapping, 0, len(r.learnedOrder))
	for _, k := range r.learnedOrder {
		if dim == "" || k.dim == dim {
			out = append(out, r.learned[k])
		}
	}
	return out
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	return len(r.order)
}

func (r *Registry) canonicalNames(dim Dimension) ([]string, []uuid.UUID) {
	names := make([]string, 0, len(r.order))
	ids := make([]uuid.UUID, 0, len(r.order))
	for _, id := range r.order {
		m := r.mappings[id]
		if m.Dimension == dim {
			names = append(names, m.CanonicalName)
			ids = append(ids, id)
		}
	}
	return names, ids
}

func (r *Registry) replace(m Mapping) (*Registry, error) {
	ms := r.Mappings("")
	idx := slices.IndexFunc(ms, func(x Mapping) bool { return x.ID == m.ID })
	if idx < 0 {
		ms = append(ms, m)
	} else {
		ms[idx] = m
	}
	return NewRegistry(ms, r.Learned(""))
}

func (r *Registry) without(id uuid.UUID) *Registry {
	ms := slices.DeleteFunc(r.Mappings(""), func(x Mapping) bool { return x.ID == id })
	next, _ := NewRegistry(ms, r.Learned(""))
	return next
}

func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sourceKey(source string) string {
	return similarity.Key(source)
}
