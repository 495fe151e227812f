package mappings

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/similarity"
)

// Create returns a registry with a new mapping built from cmd.
func (r *Registry) Create(cmd CreateCommand, id uuid.UUID, now time.Time) (*Registry, Mapping, error) {
	if !cmd.Dimension.Valid() {
		return nil, Mapping{}, fmt.Errorf("%w: %q", ErrInvalidDimension, cmd.Dimension)
	}

	name := cleanName(cmd.CanonicalName)
	if name == "" {
		return nil, Mapping{}, ErrInvalidName
	}
	if len(cmd.Labels) == 0 {
		return nil, Mapping{}, ErrEmptyLabels
	}

	labels := make([]SourceLabel, 0, len(cmd.Labels))
	for _, l := range cmd.Labels {
		sl, err := cleanLabel(l)
		if err != nil {
			return nil, Mapping{}, err
		}
		if hasLabel(labels, sl) {
			continue
		}
		labels = append(labels, sl)
	}

	m := Mapping{
		ID:            id,
		Dimension:     cmd.Dimension,
		CanonicalName: name,
		CanonicalKey:  similarity.Key(name),
		Labels:        labels,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	next, err := r.replace(m)
	if err != nil {
		return nil, Mapping{}, err
	}
	return next, m, nil
}

// AddLabel returns a registry with label attached to mapping id.
func (r *Registry) AddLabel(id uuid.UUID, label SourceLabel, now time.Time) (*Registry, Mapping, error) {
	m, ok := r.Find(id)
	if !ok {
		return nil, Mapping{}, ErrNotFound
	}

	sl, err := cleanLabel(label)
	if err != nil {
		return nil, Mapping{}, err
	}
	if hasLabel(m.Labels, sl) {
		return nil, Mapping{}, fmt.Errorf("%w: %q from %q", ErrDuplicate, sl.Label, sl.Source)
	}

	m.Labels = append(slices.Clone(m.Labels), sl)
	m.UpdatedAt = now

	next, err := r.replace(m)
	if err != nil {
		return nil, Mapping{}, err
	}
	return next, m, nil
}

// RemoveLabel returns a registry without the given label on mapping id.
// Removing the last label removes the mapping; the returned bool reports that.
func (r *Registry) RemoveLabel(id uuid.UUID, cmd RemoveLabelCommand, now time.Time) (*Registry, Mapping, bool, error) {
	m, ok := r.Find(id)
	if !ok {
		return nil, Mapping{}, false, ErrNotFound
	}

	key := similarity.Key(cmd.Label)
	src := sourceKey(cmd.Source)

	idx := slices.IndexFunc(m.Labels, func(l SourceLabel) bool {
		return similarity.Key(l.Label) == key && sourceKey(l.Source) == src
	})
	if idx < 0 {
		return nil, Mapping{}, false, fmt.Errorf("%w: %q from %q", ErrLabelNotFound, cmd.Label, cmd.Source)
	}

	m.Labels = slices.Delete(slices.Clone(m.Labels), idx, idx+1)
	m.UpdatedAt = now

	if len(m.Labels) == 0 {
		return r.without(id), m, true, nil
	}

	next, err := r.replace(m)
	if err != nil {
		return nil, Mapping{}, false, err
	}
	return next, m, false, nil
}

// Rename returns a registry where mapping id carries a new canonical name.
func (r *Registry) Rename(id uuid.UUID, cmd RenameCommand, now time.Time) (*Registry, Mapping, error) {
	m, ok := r.Find(id)
	if !ok {
		return nil, Mapping{}, ErrNotFound
	}

	name := cleanName(cmd.CanonicalName)
	if name == "" {
		return nil, Mapping{}, ErrInvalidName
	}

	m.CanonicalName = name
	m.CanonicalKey = similarity.Key(name)
	m.UpdatedAt = now

	next, err := r.replace(m)
	if err != nil {
		return nil, Mapping{}, err
	}
	return next, m, nil
}

// Remove returns a registry without mapping id.
func (r *Registry) Remove(id uuid.UUID) (*Registry, Mapping, error) {
	m, ok := r.Find(id)
	if !ok {
		return nil, Mapping{}, ErrNotFound
	}
	return r.without(id), m, nil
}

// Learn returns a registry recording cmd as a learned mapping. A correction
// for the same label and source scope replaces the earlier one, which is
// returned as the previous value.
func (r *Registry) Learn(cmd CorrectionCommand, id uuid.UUID, now time.Time) (*Registry, LearnedMapping, *LearnedMapping, error) {
	if !cmd.Dimension.Valid() {
		return nil, LearnedMapping{}, nil, fmt.Errorf("%w: %q", ErrInvalidDimension, cmd.Dimension)
	}

	label := cleanName(cmd.Label)
	if label == "" {
		return nil, LearnedMapping{}, nil, ErrInvalidLabel
	}
	name := cleanName(cmd.CanonicalName)
	if name == "" {
		return nil, LearnedMapping{}, nil, ErrInvalidName
	}

	l := LearnedMapping{
		ID:            id,
		Dimension:     cmd.Dimension,
		Label:         label,
		LabelKey:      similarity.Key(label),
		Source:        cleanName(cmd.Source),
		CanonicalName: name,
		CreatedAt:     now,
	}

	k := learnedKey{dim: l.Dimension, key: l.LabelKey, source: sourceKey(l.Source)}

	var prev *LearnedMapping
	learned := r.Learned("")
	if existing, ok := r.learned[k]; ok {
		prev = &existing
		l.ID = existing.ID
		learned = slices.DeleteFunc(learned, func(x LearnedMapping) bool { return x.ID == existing.ID })
	}
	learned = append(learned, l)

	next, err := NewRegistry(r.Mappings(""), learned)
	if err != nil {
		return nil, LearnedMapping{}, nil, err
	}
	return next, l, prev, nil
}

// ClearLearned returns a registry without the learned mappings of dim,
// and the entries removed. An empty dim clears every dimension.
func (r *Registry) ClearLearned(dim Dimension) (*Registry, []LearnedMapping) {
	removed := r.Learned(dim)
	kept := slices.DeleteFunc(r.Learned(""), func(l LearnedMapping) bool {
		return dim == "" || l.Dimension == dim
	})
	next, _ := NewRegistry(r.Mappings(""), kept)
	return next, removed
}

// Promotion describes the changes made by Promote.
// Previous holds the prior state of every updated mapping that already existed.
type Promotion struct {
	Upserted []Mapping
	Previous map[uuid.UUID]Mapping
	Applied  []LearnedMapping
	Skipped  []SkippedCorrection
}

// Promote turns the learned mappings of dim into full mappings. A correction
// whose canonical name exists adds its label to that mapping; otherwise a new
// mapping is created. Corrections whose label already belongs to a different
// mapping are skipped and kept. Applied corrections are removed.
func (r *Registry) Promote(dim Dimension, now time.Time, newID func() uuid.UUID) (*Registry, Promotion, error) {
	p := Promotion{Previous: make(map[uuid.UUID]Mapping)}

	next := r
	touched := make(map[uuid.UUID]int)

	for _, l := range r.Learned(dim) {
		if owner, ok := next.Owner(l.Dimension, l.Label); ok {
			if owner.CanonicalKey == similarity.Key(l.CanonicalName) {
				p.Applied = append(p.Applied, l)
				continue
			}
			p.Skipped = append(p.Skipped, SkippedCorrection{
				Learned: l,
				Reason:  fmt.Sprintf("label already mapped to %q", owner.CanonicalName),
			})
			continue
		}

		label := SourceLabel{Label: l.Label, Source: l.Source, Original: l.Label}

		var (
			m   Mapping
			err error
		)

		if target, ok := next.ByName(l.Dimension, l.CanonicalName); ok {
			if original, existed := r.Find(target.ID); existed {
				if _, seen := p.Previous[target.ID]; !seen {
					p.Previous[target.ID] = original
				}
			}
			next, m, err = next.AddLabel(target.ID, label, now)
		} else {
			next, m, err = next.Create(CreateCommand{
				Dimension:     l.Dimension,
				CanonicalName: l.CanonicalName,
				Labels:        []SourceLabel{label},
			}, newID(), now)
		}
		if err != nil {
			return nil, Promotion{}, fmt.Errorf("promote %q: %w", l.Label, err)
		}

		if i, ok := touched[m.ID]; ok {
			p.Upserted[i] = m
		} else {
			touched[m.ID] = len(p.Upserted)
			p.Upserted = append(p.Upserted, m)
		}
		p.Applied = append(p.Applied, l)
	}

	applied := make(map[uuid.UUID]struct{}, len(p.Applied))
	for _, l := range p.Applied {
		applied[l.ID] = struct{}{}
	}
	kept := slices.DeleteFunc(next.Learned(""), func(l LearnedMapping) bool {
		_, ok := applied[l.ID]
		return ok
	})

	final, err := NewRegistry(next.Mappings(""), kept)
	if err != nil {
		return nil, Promotion{}, err
	}
	return final, p, nil
}

func cleanLabel(l SourceLabel) (SourceLabel, error) {
	label := cleanName(l.Label)
	if label == "" {
		return SourceLabel{}, ErrInvalidLabel
	}

	original := l.Original
	if original == "" {
		original = l.Label
	}

	return SourceLabel{
		Label:     label,
		Source:    cleanName(l.Source),
		Original:  original,
		Frequency: max(l.Frequency, 0),
	}, nil
}

func hasLabel(labels []SourceLabel, l SourceLabel) bool {
	key := similarity.Key(l.Label)
	src := sourceKey(l.Source)
	return slices.ContainsFunc(labels, func(x SourceLabel) bool {
		return similarity.Key(x.Label) == key && sourceKey(x.Source) == src
	})
}
