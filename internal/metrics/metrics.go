// Package metrics summarises a reconciliation run.
package metrics

import (
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/portops/sof-server/internal/models"
)

// TimestampLayout is the format of Analysis.ParsingTimestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Reporter computes run analyses against an injected clock.
type Reporter struct {
	clock clockwork.Clock
}

// NewReporter returns a Reporter. A nil clock means the real one.
func NewReporter(clock clockwork.Clock) *Reporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reporter{clock: clock}
}

// Compute counts resolved and unresolved events. Excluded candidates never
// reach here and are not counted.
func (r *Reporter) Compute(resolved []models.ResolvedEvent, unresolved []models.UnresolvedEvent) models.Analysis {
	return r.Summarize(len(resolved), len(unresolved))
}

// Summarize is Compute over bare counts.
func (r *Reporter) Summarize(resolved, unresolved int) models.Analysis {
	total := resolved + unresolved
	return models.Analysis{
		TotalEventsFound:   total,
		SuccessfullyParsed: resolved,
		SkippedEvents:      unresolved,
		SuccessRate:        SuccessRate(resolved, total),
		ParsingTimestamp:   r.clock.Now().Format(TimestampLayout),
	}
}

// SuccessRate is resolved/total as a percentage rounded to two decimals,
// or 0 when total is 0.
func SuccessRate(resolved, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(resolved)/float64(total)*10000) / 100
}
