package reconcile

import (
	"fmt"

	"github.com/portops/sof-server/internal/models"
)

// Validate checks the invariants every timeline must hold: each event ends
// strictly after it starts, starts never decrease, every boundary has a
// provenance, and the event after a rest period does not start inside it.
func Validate(timeline []models.ResolvedEvent) error {
	for i, ev := range timeline {
		if !ev.Start.Before(ev.End) {
			return fmt.Errorf("event %d (%s) has invalid range %s..%s", i, ev.Name, ev.Start, ev.End)
		}
		if ev.StartSource == "" || ev.EndSource == "" {
			return fmt.Errorf("event %d (%s) has a boundary with no provenance", i, ev.Name)
		}
		if i == 0 {
			continue
		}

		prev := timeline[i-1]
		if ev.Start.Before(prev.Start) {
			return fmt.Errorf("event %d (%s) starts before event %d", i, ev.Name, i-1)
		}
		if prev.Rest && ev.Start.Before(prev.End) {
			return fmt.Errorf("event %d (%s) starts inside the rest period ending %s", i, ev.Name, prev.End)
		}
	}
	return nil
}
