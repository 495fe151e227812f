package mappings

import (
	"github.com/JaimeStill/compass/pkg/similarity"
)

// Suggest ranks existing canonical names of dim and the other unmapped labels
// by similarity to label. Only candidates scoring above threshold are returned,
// ordered by confidence and then by first appearance (canonical names first).
// Candidates below floor are flagged as requiring confirmation.
func (r *Registry) Suggest(dim Dimension, label string, unmapped []UnmappedLabel, threshold, floor float64) []Candidate {
	names, ids := r.canonicalNames(dim)

	pool := make([]string, 0, len(names)+len(unmapped))
	pool = append(pool, names...)

	seen := map[string]struct{}{similarity.Key(label): {}}
	for _, n := range names {
		seen[similarity.Key(n)] = struct{}{}
	}
	for _, u := range unmapped {
		if u.Dimension != "" && u.Dimension != dim {
			continue
		}
		k := similarity.Key(u.Label)
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		pool = append(pool, u.Label)
	}

	matches := similarity.Rank(label, pool, threshold)

	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		c := Candidate{
			Name:                 m.Label,
			Kind:                 CandidateUnmapped,
			Confidence:           m.Score,
			RequiresConfirmation: m.Score < floor,
		}
		if m.Index < len(names) {
			id := ids[m.Index]
			c.Kind = CandidateCanonical
			c.MappingID = &id
		}
		out = append(out, c)
	}
	return out
}

type cluster struct {
	members []UnmappedLabel
}

// Cluster greedily groups unmapped labels of dim in input order. A label joins
// the cluster whose members all score above threshold against it, picking
// the highest minimum score and then the earliest cluster; otherwise it starts
// a new cluster. Duplicate labels are merged and their frequencies summed.
//
// Each cluster proposes the existing canonical name its members match best on
// average, when that average exceeds threshold. Otherwise the member with the
// highest frequency is proposed, ties going to the first seen.
func (r *Registry) Cluster(dim Dimension, unmapped []UnmappedLabel, threshold, floor float64) []Suggestion {
	labels := mergeUnmapped(dim, unmapped)

	clusters := make([]*cluster, 0)
	for _, l := range labels {
		best := -1
		bestScore := -1.0

		for i, c := range clusters {
			lowest := 1.0
			for _, m := range c.members {
				lowest = min(lowest, similarity.Score(l.Label, m.Label))
				if lowest <= threshold {
					break
				}
			}
			if lowest > threshold && lowest > bestScore {
				best = i
				bestScore = lowest
			}
		}

		if best < 0 {
			clusters = append(clusters, &cluster{members: []UnmappedLabel{l}})
			continue
		}
		clusters[best].members = append(clusters[best].members, l)
	}

	names, ids := r.canonicalNames(dim)

	out := make([]Suggestion, 0, len(clusters))
	for _, c := range clusters {
		s := Suggestion{Members: c.members}

		if idx, avg := bestCanonical(c.members, names); idx >= 0 && avg > threshold {
			id := ids[idx]
			s.CanonicalName = names[idx]
			s.MappingID = &id
			s.Confidence = avg
		} else {
			s.CanonicalName = representative(c.members).Label
			s.Confidence = cohesion(c.members)
		}

		s.RequiresConfirmation = s.Confidence < floor
		out = append(out, s)
	}

	return out
}

func mergeUnmapped(dim Dimension, unmapped []UnmappedLabel) []UnmappedLabel {
	out := make([]UnmappedLabel, 0, len(unmapped))
	pos := make(map[string]int, len(unmapped))

	for _, u := range unmapped {
		if u.Dimension != "" && u.Dimension != dim {
			continue
		}
		k := similarity.Key(u.Label)
		if k == "" {
			continue
		}
		if i, ok := pos[k]; ok {
			out[i].Frequency += max(u.Frequency, 0)
			continue
		}
		pos[k] = len(out)
		u.Dimension = dim
		u.Frequency = max(u.Frequency, 0)
		out = append(out, u)
	}

	return out
}

func bestCanonical(members []UnmappedLabel, names []string) (int, float64) {
	best := -1
	bestAvg := 0.0

	for i, n := range names {
		total := 0.0
		for _, m := range members {
			total += similarity.Score(m.Label, n)
		}
		avg := total / float64(len(members))
		if avg > bestAvg {
			best = i
			bestAvg = avg
		}
	}

	return best, bestAvg
}

func representative(members []UnmappedLabel) UnmappedLabel {
	rep := members[0]
	for _, m := range members[1:] {
		if m.Frequency > rep.Frequency {
			rep = m
		}
	}
	return rep
}

func cohesion(members []UnmappedLabel) float64 {
	lowest := 1.0
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			lowest = min(lowest, similarity.Score(members[i].Label, members[j].Label))
		}
	}
	return lowest
}
