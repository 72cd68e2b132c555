package models

import "time"

// TimeLayout is the wire format for every resolved instant.
const TimeLayout = "2006-01-02 15:04"

// RestPeriodName is the canonical name of a break event.
const RestPeriodName = "Rest period"

// Reason explains why a candidate could not be placed on the timeline.
type Reason string

const (
	ReasonMissingStart         Reason = "missing_start"
	ReasonMissingEnd           Reason = "missing_end"
	ReasonZeroDuration         Reason = "zero_duration"
	ReasonUnparseableTimestamp Reason = "unparseable_timestamp"
	ReasonNoContext            Reason = "no_context"
	// ReasonExcludedByPolicy is never reported; charter-party entries are dropped.
	ReasonExcludedByPolicy Reason = "excluded_by_policy"
)

// Provenance records where a resolved boundary came from.
type Provenance string

const (
	FromToken       Provenance = "token"
	FromPreviousEnd Provenance = "previous_end"
	FromNextStart   Provenance = "next_start"
	FromRestFloor   Provenance = "rest_floor"
)

// Kind is the shape of a classified candidate.
type Kind int

const (
	KindUnanchored Kind = iota
	KindMilestone
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindDuration:
		return "duration"
	case KindMilestone:
		return "milestone"
	default:
		return "unanchored"
	}
}

// RawCandidate is an event mention as reported by a detector.
type RawCandidate struct {
	Name       string   `json:"event" yaml:"event"`
	StartToken string   `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndToken   string   `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ShipDetails is passed through from the detector untouched.
type ShipDetails struct {
	VesselName    string `json:"vessel_name,omitempty" yaml:"vessel_name,omitempty"`
	Owner         string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Captain       string `json:"captain,omitempty" yaml:"captain,omitempty"`
	ArrivalTime   string `json:"arrival_time,omitempty" yaml:"arrival_time,omitempty"`
	DepartureTime string `json:"departure_time,omitempty" yaml:"departure_time,omitempty"`
	IMONumber     string `json:"imo_number,omitempty" yaml:"imo_number,omitempty"`
	FlagState     string `json:"flag_state,omitempty" yaml:"flag_state,omitempty"`
}

// Extraction is the detector's output for one document.
type Extraction struct {
	ShipDetails ShipDetails    `json:"ship_details" yaml:"ship_details"`
	Events      []RawCandidate `json:"events" yaml:"events"`
}

// Candidate is a normalized, classified event ready for reconciliation.
// Start and End are nil when the document gives no usable token.
type Candidate struct {
	Seq    int
	Name   string
	Kind   Kind
	Rest   bool
	Start  *time.Time
	End    *time.Time
	Reason Reason // only set for unanchored candidates
}

// ResolvedEvent is an event with both boundaries known and Start < End.
type ResolvedEvent struct {
	Seq         int
	Name        string
	Start       time.Time
	End         time.Time
	Rest        bool
	StartSource Provenance
	EndSource   Provenance
}

// UnresolvedEvent is a candidate that could not be placed without fabrication.
type UnresolvedEvent struct {
	Seq    int
	Name   string
	Reason Reason
}

// Event is the wire form of a resolved event.
type Event struct {
	Event     string `json:"event" yaml:"event"`
	StartTime string `json:"start_time" yaml:"start_time"`
	EndTime   string `json:"end_time" yaml:"end_time"`
}

// UnresolvedEntry is the wire form of an unresolved event.
type UnresolvedEntry struct {
	Event  string `json:"event" yaml:"event"`
	Reason Reason `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Analysis summarises one reconciliation run.
type Analysis struct {
	TotalEventsFound   int     `json:"total_events_found" yaml:"total_events_found"`
	SuccessfullyParsed int     `json:"successfully_parsed" yaml:"successfully_parsed"`
	SkippedEvents      int     `json:"skipped_events" yaml:"skipped_events"`
	SuccessRate        float64 `json:"success_rate" yaml:"success_rate"`
	ParsingTimestamp   string  `json:"parsing_timestamp" yaml:"parsing_timestamp"`
}

// Report is the complete output handed to the presentation/export layer.
type Report struct {
	RunID            string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ShipDetails      ShipDetails       `json:"ship_details" yaml:"ship_details"`
	Events           []Event           `json:"events" yaml:"events"`
	UnresolvedEvents []UnresolvedEntry `json:"unresolved_events" yaml:"unresolved_events"`
	Analysis         Analysis          `json:"analysis" yaml:"analysis"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Detector string `json:"detector"`
	Database string `json:"database"`
	Version  string `json:"version"`
}

// RunSummary is one row of the runs listing
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Operator   string    `json:"operator"`
	Filename   string    `json:"filename"`
	Mode       string    `json:"mode"`
	Resolved   int       `json:"resolved"`
	Unresolved int       `json:"unresolved"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RunsResponse is returned by the runs listing endpoint
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// Review is an unresolved entry awaiting operator adjudication
type Review struct {
	Seq       int    `json:"seq"`
	Event     string `json:"event"`
	Reason    Reason `json:"reason"`
	Status    string `json:"status"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Note      string `json:"note,omitempty"`
}

// ReviewsResponse is returned by the reviews endpoint
type ReviewsResponse struct {
	RunID   string   `json:"run_id"`
	Reviews []Review `json:"reviews"`
}

// AdjudicateRequest resolves an unresolved entry by hand.
// Dismiss marks the entry as not an event; otherwise both times are required.
type AdjudicateRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Dismiss   bool   `json:"dismiss"`
	Note      string `json:"note"`
}

// Review statuses
const (
	ReviewPending     = "pending"
	ReviewAdjudicated = "adjudicated"
	ReviewDismissed   = "dismissed"
)

// Document modes (pdf_type form field)
const (
	ModeText  = "text"
	ModePhoto = "photo"

	// ModeExtraction marks runs built from a posted extraction, with no document.
	ModeExtraction = "extraction"
)
