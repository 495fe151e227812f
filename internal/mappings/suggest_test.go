package mappings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/pkg/similarity"
)

func TestRegistrySuggest(t *testing.T) {
	r, cardio := newMapping(t, mappings.EmptyRegistry(), mappings.Specialty, "Cardiology", "Cardiology - General")
	r, _ = newMapping(t, r, mappings.Specialty, "Dermatology", "Derm")
	r, _ = newMapping(t, r, mappings.Specialty, "Family Medicine", "Family Med")

	t.Run("canonical match", func(t *testing.T) {
		got := r.Suggest(mappings.Specialty, "Cardio", nil, 0.7, 0.9)

		require.Len(t, got, 1)
		assert.Equal(t, "Cardiology", got[0].Name)
		assert.Equal(t, mappings.CandidateCanonical, got[0].Kind)
		require.NotNil(t, got[0].MappingID)
		assert.Equal(t, cardio.ID, *got[0].MappingID)
		assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
		assert.False(t, got[0].RequiresConfirmation)
	})

	t.Run("unmapped labels follow canonical names", func(t *testing.T) {
		unmapped := []mappings.UnmappedLabel{
			{Dimension: mappings.Specialty, Label: "Cardiac"},
			{Dimension: mappings.Specialty, Label: "cardiology"},
			{Dimension: mappings.Specialty, Label: "cardio"},
			{Dimension: mappings.Region, Label: "Cardiac Region"},
		}

		got := r.Suggest(mappings.Specialty, "Cardio", unmapped, 0.7, 0.9)

		require.Len(t, got, 2)
		assert.Equal(t, "Cardiology", got[0].Name)
		assert.Equal(t, "Cardiac", got[1].Name)
		assert.Equal(t, mappings.CandidateUnmapped, got[1].Kind)
		assert.Nil(t, got[1].MappingID)
	})

	t.Run("low confidence requires confirmation", func(t *testing.T) {
		got := r.Suggest(mappings.Specialty, "Family Practice", nil, 0.5, 0.9)

		require.NotEmpty(t, got)
		assert.Equal(t, "Family Medicine", got[0].Name)
		assert.Less(t, got[0].Confidence, 0.9)
		assert.True(t, got[0].RequiresConfirmation)
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		got := r.Suggest(mappings.Specialty, "Anesthesiology", nil, 0.95, 0.9)
		assert.Empty(t, got)
	})

	t.Run("other dimensions are not candidates", func(t *testing.T) {
		got := r.Suggest(mappings.Region, "Cardio", nil, 0.5, 0.9)
		assert.Empty(t, got)
	})
}

func TestRegistryCluster(t *testing.T) {
	unmapped := []mappings.UnmappedLabel{
		{Dimension: mappings.Specialty, Label: "Cardio", Frequency: 3},
		{Dimension: mappings.Specialty, Label: "Dermatology", Frequency: 2},
		{Dimension: mappings.Specialty, Label: "Cardiac", Frequency: 5},
		{Dimension: mappings.Specialty, Label: "cardio", Frequency: 4},
		{Dimension: mappings.Region, Label: "Northeast", Frequency: 9},
	}

	t.Run("groups similar labels", func(t *testing.T) {
		got := mappings.EmptyRegistry().Cluster(mappings.Specialty, unmapped, 0.8, 0.9)

		require.Len(t, got, 2)

		assert.Equal(t, "Cardio", got[0].CanonicalName)
		assert.Nil(t, got[0].MappingID)
		require.Len(t, got[0].Members, 2)
		assert.Equal(t, 7, got[0].Members[0].Frequency)
		assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)

		assert.Equal(t, "Dermatology", got[1].CanonicalName)
		assert.Len(t, got[1].Members, 1)
	})

	t.Run("every label appears once", func(t *testing.T) {
		got := mappings.EmptyRegistry().Cluster(mappings.Specialty, unmapped, 0.8, 0.9)

		seen := map[string]int{}
		for _, s := range got {
			for _, m := range s.Members {
				seen[m.Label]++
			}
		}
		assert.Equal(t, map[string]int{"Cardio": 1, "Dermatology": 1, "Cardiac": 1}, seen)
	})

	t.Run("prefers existing canonical name", func(t *testing.T) {
		r, cardio := newMapping(t, mappings.EmptyRegistry(), mappings.Specialty, "Cardiology", "Cardiology - General")

		got := r.Cluster(mappings.Specialty, unmapped, 0.8, 0.9)

		require.Len(t, got, 2)
		assert.Equal(t, "Cardiology", got[0].CanonicalName)
		require.NotNil(t, got[0].MappingID)
		assert.Equal(t, cardio.ID, *got[0].MappingID)
		assert.False(t, got[0].RequiresConfirmation)
	})

	t.Run("frequency ties keep first seen", func(t *testing.T) {
		got := mappings.EmptyRegistry().Cluster(mappings.Specialty, []mappings.UnmappedLabel{
			{Label: "Pediatrics", Frequency: 1},
			{Label: "Pediatric", Frequency: 1},
		}, 0.8, 0.9)

		require.Len(t, got, 1)
		assert.Equal(t, "Pediatrics", got[0].CanonicalName)
	})

	t.Run("score equal to threshold does not join", func(t *testing.T) {
		score := similarity.Score("Neurology", "Neurologist")
		labels := []mappings.UnmappedLabel{
			{Label: "Neurology", Frequency: 1},
			{Label: "Neurologist", Frequency: 1},
		}

		assert.Len(t, mappings.EmptyRegistry().Cluster(mappings.Specialty, labels, score, 0.9), 2)
		assert.Len(t, mappings.EmptyRegistry().Cluster(mappings.Specialty, labels, score-0.01, 0.9), 1)
	})

	t.Run("empty input", func(t *testing.T) {
		got := mappings.EmptyRegistry().Cluster(mappings.Specialty, nil, 0.8, 0.9)
		assert.Empty(t, got)
	})
}
