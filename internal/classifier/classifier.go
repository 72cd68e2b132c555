// Package classifier routes raw detector candidates before reconciliation:
// charter-party entries are dropped, rest/break entries are marked, and each
// candidate's tokens are normalized into a duration, milestone or unanchored
// candidate.
package classifier

import (
	"regexp"
	"strings"
	"time"

	"github.com/portops/sof-server/internal/models"
	"github.com/portops/sof-server/internal/timestamp"
)

// Classifier routes candidates using a vocabulary
type Classifier struct {
	restPattern      *regexp.Regexp
	exclusionPattern *regexp.Regexp
	restTags         map[string]bool
	exclusionTags    map[string]bool
}

// NewClassifier creates a classifier for the given vocabulary
func NewClassifier(vocab Vocabulary) *Classifier {
	return &Classifier{
		restPattern:      phrasePattern(vocab.RestTerms),
		exclusionPattern: phrasePattern(vocab.ExclusionMarkers),
		restTags:         tagSet(vocab.RestTags),
		exclusionTags:    tagSet(vocab.ExclusionTags),
	}
}

// Result is the classification of one document's candidates
type Result struct {
	Candidates []models.Candidate
	Excluded   int
}

// Classify routes every raw candidate. Input order is kept as each
// candidate's Seq; the input slice is not modified.
func (c *Classifier) Classify(raw []models.RawCandidate) Result {
	result := Result{Candidates: make([]models.Candidate, 0, len(raw))}

	for i, rc := range raw {
		if c.IsExcluded(rc) {
			result.Excluded++
			continue
		}
		result.Candidates = append(result.Candidates, c.route(i, rc))
	}
	return result
}

// IsExcluded reports whether a candidate carries the charter-party marker.
func (c *Classifier) IsExcluded(rc models.RawCandidate) bool {
	for _, t := range rc.Tags {
		if c.exclusionTags[normalizeTag(t)] {
			return true
		}
	}
	return c.exclusionPattern != nil && c.exclusionPattern.MatchString(rc.Name)
}

// IsRest reports whether a candidate names a rest or break period.
func (c *Classifier) IsRest(rc models.RawCandidate) bool {
	for _, t := range rc.Tags {
		if c.restTags[normalizeTag(t)] {
			return true
		}
	}
	return c.restPattern != nil && c.restPattern.MatchString(rc.Name)
}

func (c *Classifier) route(seq int, rc models.RawCandidate) models.Candidate {
	cand := models.Candidate{
		Seq:  seq,
		Name: strings.TrimSpace(rc.Name),
		Rest: c.IsRest(rc),
	}
	if cand.Rest {
		cand.Name = models.RestPeriodName
	}

	start, startBad := normalizeToken(rc.StartToken)
	end, endBad := normalizeToken(rc.EndToken)

	switch {
	case startBad || endBad:
		cand.Kind = models.KindUnanchored
		cand.Reason = models.ReasonUnparseableTimestamp
	case start != nil && end != nil:
		cand.Kind = models.KindDuration
		cand.Start, cand.End = start, end
	case start != nil || end != nil:
		cand.Kind = models.KindMilestone
		cand.Start, cand.End = start, end
	default:
		cand.Kind = models.KindUnanchored
		cand.Reason = models.ReasonNoContext
	}
	return cand
}

// normalizeToken returns nil for an absent token and bad=true for a token
// that is present but matches no known format.
func normalizeToken(token string) (t *time.Time, bad bool) {
	if strings.TrimSpace(token) == "" || isPlaceholder(token) {
		return nil, false
	}
	parsed, err := timestamp.Parse(token)
	if err != nil {
		return nil, true
	}
	return &parsed, false
}

// Detectors write these when a field was not found at all.
func isPlaceholder(token string) bool {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "n/a", "na", "null", "none", "-":
		return true
	}
	return false
}
