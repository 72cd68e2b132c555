package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/sof-server/internal/models"
)

func TestIsExcluded(t *testing.T) {
	c := NewClassifier(DefaultVocabulary())

	tests := []struct {
		name string
		rc   models.RawCandidate
		want bool
	}{
		{"marker phrase", models.RawCandidate{Name: "Shifting time as per charter party"}, true},
		{"marker abbreviation", models.RawCandidate{Name: "Awaiting berth as per CP"}, true},
		{"marker in parentheses", models.RawCandidate{Name: "Notice time(CP)"}, true},
		{"marker with slash", models.RawCandidate{Name: "Laytime excluded as per C/P"}, true},
		{"marker across spaces", models.RawCandidate{Name: "as  per   Charter  Party clause 7"}, true},
		{"tag", models.RawCandidate{Name: "Notice time", Tags: []string{"Charter Party"}}, true},
		{"plain event", models.RawCandidate{Name: "Pilot on board"}, false},
		{"cp inside a word", models.RawCandidate{Name: "as per cpt instructions"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsExcluded(tt.rc))
		})
	}
}

func TestIsRest(t *testing.T) {
	c := NewClassifier(DefaultVocabulary())

	tests := []struct {
		name string
		want bool
	}{
		{"Rest", true},
		{"Rest period", true},
		{"Crew meal break", true},
		{"BREAK", true},
		{"Crane breakdown", false},
		{"Restow containers", false},
		{"Cargo operations", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsRest(models.RawCandidate{Name: tt.name}))
		})
	}

	assert.True(t, c.IsRest(models.RawCandidate{Name: "Stoppage", Tags: []string{"REST"}}))
}

func TestClassifyKinds(t *testing.T) {
	c := NewClassifier(DefaultVocabulary())

	raw := []models.RawCandidate{
		{Name: "Loading", StartToken: "2019-10-11 10:00", EndToken: "2019-10-11 12:00"},
		{Name: "Pilot on board", StartToken: "2019-10-11 09:20"},
		{Name: "Waiting", EndToken: "2019-10-11 14:00"},
		{Name: "Hose connected"},
		{Name: "Blurred entry", StartToken: "2019-1?-11 1?:00"},
		{Name: "Lunch break", StartToken: "2019-10-11 12:00", EndToken: "2019-10-11 13:00"},
		{Name: "Bunkering", StartToken: "2019-10-11 08:00", EndToken: "N/A"},
	}

	result := c.Classify(raw)
	require.Len(t, result.Candidates, len(raw))
	assert.Zero(t, result.Excluded)

	got := result.Candidates
	assert.Equal(t, models.KindDuration, got[0].Kind)
	assert.Equal(t, models.KindMilestone, got[1].Kind)
	require.NotNil(t, got[1].Start)
	assert.Nil(t, got[1].End)

	assert.Equal(t, models.KindMilestone, got[2].Kind)
	assert.Nil(t, got[2].Start, "a lone end token stays an end")
	require.NotNil(t, got[2].End)

	assert.Equal(t, models.KindUnanchored, got[3].Kind)
	assert.Equal(t, models.ReasonNoContext, got[3].Reason)

	assert.Equal(t, models.KindUnanchored, got[4].Kind)
	assert.Equal(t, models.ReasonUnparseableTimestamp, got[4].Reason)
	assert.Nil(t, got[4].Start)

	assert.True(t, got[5].Rest)
	assert.Equal(t, models.RestPeriodName, got[5].Name)

	assert.Equal(t, models.KindMilestone, got[6].Kind, "placeholders count as absent")

	for i, cand := range got {
		assert.Equal(t, i, cand.Seq)
	}
}

func TestClassifyDropsExcluded(t *testing.T) {
	c := NewClassifier(DefaultVocabulary())

	raw := []models.RawCandidate{
		{Name: "Loading", StartToken: "2019-10-11 10:00", EndToken: "2019-10-11 12:00"},
		{Name: "Waiting as per charter party (CP)", StartToken: "2019-10-11 12:00", EndToken: "2019-10-11 13:00"},
		{Name: "Sailed", StartToken: "2019-10-11 19:45"},
	}

	result := c.Classify(raw)
	assert.Equal(t, 1, result.Excluded)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "Loading", result.Candidates[0].Name)
	assert.Equal(t, 2, result.Candidates[1].Seq, "seq follows the original detection order")
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	c := NewClassifier(DefaultVocabulary())
	raw := []models.RawCandidate{{Name: "  Rest  ", StartToken: "2019-10-11 12:00", EndToken: "2019-10-11 14:00"}}

	c.Classify(raw)
	assert.Equal(t, "  Rest  ", raw[0].Name)
}

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	content := `rest_terms:
  - siesta
exclusion_tags:
  - laytime_excluded
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	vocab, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"siesta"}, vocab.RestTerms)
	assert.Equal(t, []string{"laytime_excluded"}, vocab.ExclusionTags)
	assert.Equal(t, DefaultVocabulary().ExclusionMarkers, vocab.ExclusionMarkers, "unset sections keep defaults")

	c := NewClassifier(vocab)
	assert.True(t, c.IsRest(models.RawCandidate{Name: "Siesta"}))
	assert.False(t, c.IsRest(models.RawCandidate{Name: "Break"}))
	assert.True(t, c.IsExcluded(models.RawCandidate{Name: "x", Tags: []string{"Laytime-Excluded"}}))
}

func TestLoadVocabularyErrors(t *testing.T) {
	_, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rest_terms: [unclosed"), 0o644))
	_, err = LoadVocabulary(path)
	assert.Error(t, err)

	vocab, err := LoadVocabulary("")
	require.NoError(t, err)
	assert.Equal(t, DefaultVocabulary(), vocab)
}
