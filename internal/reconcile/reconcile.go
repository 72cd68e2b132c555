// Package reconcile builds a gap-consistent timeline from classified
// candidates.
//
// The algorithm runs as a sequence of passes over an anchor-sorted copy of the
// input: missing starts are taken from the previous candidate's end, missing
// ends from the next candidate's start, rest periods then act as a floor for
// whatever follows them, and finally every candidate lands either on the
// timeline or in the unresolved list with a reason. No boundary is ever
// invented: each one is a document token or a neighbour's boundary, and its
// provenance is recorded on the resolved event.
//
// Reconcile never fails. Identical or overlapping entries are kept apart.
package reconcile

import (
	"slices"
	"time"

	"github.com/portops/sof-server/internal/models"
)

// Result is the outcome for one document.
type Result struct {
	Timeline   []models.ResolvedEvent
	Unresolved []models.UnresolvedEvent
}

type bound struct {
	at    time.Time
	known bool
	from  models.Provenance
}

func tokenBound(t *time.Time) bound {
	if t == nil {
		return bound{}
	}
	return bound{at: *t, known: true, from: models.FromToken}
}

type slot struct {
	cand  models.Candidate
	start bound
	end   bound
}

func (s slot) anchor() time.Time {
	if s.start.known {
		return s.start.at
	}
	return s.end.at
}

func (s slot) resolvable() bool {
	return s.start.known && s.end.known && s.start.at.Before(s.end.at)
}

// Reconcile places every candidate on the timeline or in the unresolved
// list. The input slice is not modified.
func Reconcile(cands []models.Candidate) Result {
	anchored, deferred := sortByAnchor(cands)
	anchored = fillStarts(anchored)
	anchored = fillEnds(anchored)
	anchored = clampRests(anchored)
	return finalize(anchored, deferred)
}

// sortByAnchor splits off candidates with no usable timestamp and sorts the
// rest by anchor. Ties keep their input order.
func sortByAnchor(cands []models.Candidate) (anchored []slot, deferred []models.Candidate) {
	for _, c := range cands {
		s := slot{cand: c, start: tokenBound(c.Start), end: tokenBound(c.End)}
		if c.Kind == models.KindUnanchored || (!s.start.known && !s.end.known) {
			deferred = append(deferred, c)
			continue
		}
		anchored = append(anchored, s)
	}

	slices.SortStableFunc(anchored, func(a, b slot) int {
		return a.anchor().Compare(b.anchor())
	})
	return anchored, deferred
}

// fillStarts gives a candidate with no start the end of the candidate just
// before it, provided that does not put the start after the candidate's end.
func fillStarts(in []slot) []slot {
	out := slices.Clone(in)
	for i := 1; i < len(in); i++ {
		prev := in[i-1].end
		cur := in[i]
		if cur.start.known || !prev.known {
			continue
		}
		if cur.end.known && prev.at.After(cur.end.at) {
			continue
		}
		out[i].start = bound{at: prev.at, known: true, from: models.FromPreviousEnd}
	}
	return out
}

// fillEnds gives a candidate with no end the start of the candidate just
// after it, provided that does not put the end before the candidate's start.
func fillEnds(in []slot) []slot {
	out := slices.Clone(in)
	for i := len(in) - 2; i >= 0; i-- {
		next := in[i+1].start
		cur := in[i]
		if cur.end.known || !next.known {
			continue
		}
		if cur.start.known && next.at.Before(cur.start.at) {
			continue
		}
		out[i].end = bound{at: next.at, known: true, from: models.FromNextStart}
	}
	return out
}

// clampRests raises the start of anything that follows a rest period, in
// anchor order, to the rest's end. The floor is the latest rest end seen so
// far, so no event placed after a rest can start inside it.
func clampRests(in []slot) []slot {
	out := slices.Clone(in)

	var floor time.Time
	active := false
	for i, s := range in {
		if active && s.start.known && s.start.at.Before(floor) {
			s.start = bound{at: floor, known: true, from: models.FromRestFloor}
		}
		if s.cand.Rest && s.resolvable() && (!active || s.end.at.After(floor)) {
			floor = s.end.at
			active = true
		}
		out[i] = s
	}
	return out
}

func finalize(anchored []slot, deferred []models.Candidate) Result {
	res := Result{
		Timeline:   make([]models.ResolvedEvent, 0, len(anchored)),
		Unresolved: make([]models.UnresolvedEvent, 0, len(deferred)),
	}

	for _, s := range anchored {
		if reason, ok := failure(s); ok {
			res.Unresolved = append(res.Unresolved, unresolved(s.cand, reason))
			continue
		}
		res.Timeline = append(res.Timeline, models.ResolvedEvent{
			Seq:         s.cand.Seq,
			Name:        s.cand.Name,
			Start:       s.start.at,
			End:         s.end.at,
			Rest:        s.cand.Rest,
			StartSource: s.start.from,
			EndSource:   s.end.from,
		})
	}

	for _, c := range deferred {
		reason := c.Reason
		if reason == "" {
			reason = models.ReasonNoContext
		}
		res.Unresolved = append(res.Unresolved, unresolved(c, reason))
	}

	slices.SortStableFunc(res.Timeline, func(a, b models.ResolvedEvent) int {
		return a.Start.Compare(b.Start)
	})
	slices.SortStableFunc(res.Unresolved, func(a, b models.UnresolvedEvent) int {
		return a.Seq - b.Seq
	})
	return res
}

// failure returns the reason a slot cannot be placed on the timeline.
func failure(s slot) (models.Reason, bool) {
	switch {
	case !s.start.known:
		return models.ReasonMissingStart, true
	case !s.end.known:
		return models.ReasonMissingEnd, true
	case s.start.at.Equal(s.end.at):
		return models.ReasonZeroDuration, true
	case s.start.at.After(s.end.at):
		// Blame whichever side was derived; two contradicting tokens mean the
		// document itself cannot be read as a valid range.
		if s.start.from != models.FromToken {
			return models.ReasonMissingStart, true
		}
		if s.end.from != models.FromToken {
			return models.ReasonMissingEnd, true
		}
		return models.ReasonUnparseableTimestamp, true
	}
	return "", false
}

func unresolved(c models.Candidate, reason models.Reason) models.UnresolvedEvent {
	return models.UnresolvedEvent{Seq: c.Seq, Name: c.Name, Reason: reason}
}
