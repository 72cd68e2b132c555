package metrics

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/portops/sof-server/internal/models"
)

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		resolved, total int
		want            float64
	}{
		{0, 0, 0},
		{3, 3, 100},
		{0, 4, 0},
		{2, 3, 66.67},
		{1, 3, 33.33},
		{1, 8, 12.5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SuccessRate(tt.resolved, tt.total), "%d/%d", tt.resolved, tt.total)
	}
}

func TestCompute(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC))
	r := NewReporter(clock)

	resolved := []models.ResolvedEvent{{Name: "Loading"}, {Name: "Waiting"}}
	unresolved := []models.UnresolvedEvent{{Name: "Pilot on board", Reason: models.ReasonMissingEnd}}

	got := r.Compute(resolved, unresolved)
	assert.Equal(t, models.Analysis{
		TotalEventsFound:   3,
		SuccessfullyParsed: 2,
		SkippedEvents:      1,
		SuccessRate:        66.67,
		ParsingTimestamp:   "2024-03-05 14:07:09",
	}, got)

	clock.Advance(time.Minute)
	assert.Equal(t, "2024-03-05 14:08:09", r.Compute(nil, nil).ParsingTimestamp)
}

func TestComputeEmpty(t *testing.T) {
	got := NewReporter(clockwork.NewFakeClock()).Compute(nil, nil)
	assert.Zero(t, got.TotalEventsFound)
	assert.Zero(t, got.SuccessRate)
}
