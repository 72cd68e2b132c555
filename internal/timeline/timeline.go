// Package timeline runs a detector's extraction through classification,
// reconciliation and metrics, producing the report handed to exporters.
package timeline

import (
	"github.com/rs/zerolog"

	"github.com/portops/sof-server/internal/classifier"
	"github.com/portops/sof-server/internal/metrics"
	"github.com/portops/sof-server/internal/models"
	"github.com/portops/sof-server/internal/reconcile"
	"github.com/portops/sof-server/internal/timestamp"
)

// Builder is safe for concurrent use; it holds no per-document state.
type Builder struct {
	classifier *classifier.Classifier
	reporter   *metrics.Reporter
	logger     zerolog.Logger
}

// Outcome is a built report plus the internal results it was rendered from.
type Outcome struct {
	Report     models.Report
	Timeline   []models.ResolvedEvent
	Unresolved []models.UnresolvedEvent
	Excluded   int
}

func NewBuilder(c *classifier.Classifier, r *metrics.Reporter, logger zerolog.Logger) *Builder {
	return &Builder{classifier: c, reporter: r, logger: logger}
}

// Build reconciles one extraction. Ship details pass through untouched.
func (b *Builder) Build(ext models.Extraction) Outcome {
	classified := b.classifier.Classify(ext.Events)
	res := reconcile.Reconcile(classified.Candidates)

	if err := reconcile.Validate(res.Timeline); err != nil {
		// Reconcile guarantees these invariants; a failure here is a bug.
		b.logger.Error().Err(err).Msg("timeline failed validation")
	}

	b.logger.Debug().
		Int("detected", len(ext.Events)).
		Int("excluded", classified.Excluded).
		Int("resolved", len(res.Timeline)).
		Int("unresolved", len(res.Unresolved)).
		Msg("timeline built")

	return Outcome{
		Report: models.Report{
			ShipDetails:      ext.ShipDetails,
			Events:           Events(res.Timeline),
			UnresolvedEvents: Entries(res.Unresolved),
			Analysis:         b.reporter.Compute(res.Timeline, res.Unresolved),
		},
		Timeline:   res.Timeline,
		Unresolved: res.Unresolved,
		Excluded:   classified.Excluded,
	}
}

// Events renders resolved events in wire form.
func Events(timeline []models.ResolvedEvent) []models.Event {
	out := make([]models.Event, 0, len(timeline))
	for _, ev := range timeline {
		out = append(out, models.Event{
			Event:     ev.Name,
			StartTime: timestamp.Format(ev.Start),
			EndTime:   timestamp.Format(ev.End),
		})
	}
	return out
}

// Entries renders unresolved events in wire form.
func Entries(unresolved []models.UnresolvedEvent) []models.UnresolvedEntry {
	out := make([]models.UnresolvedEntry, 0, len(unresolved))
	for _, u := range unresolved {
		out = append(out, models.UnresolvedEntry{Event: u.Name, Reason: u.Reason})
	}
	return out
}
