// Package timestamp turns the date and time tokens found in Statements of
// Facts into instants.
//
// Parsing is total over a fixed set of formats: a token that matches none of
// them is reported as unresolved, never coerced. A time with no date (or a
// date with no time) is unresolved too. All instants are port-local wall
// clock values carried in UTC.
package timestamp

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/portops/sof-server/internal/models"
)

// ErrUnresolved is wrapped by every parse failure.
var ErrUnresolved = errors.New("unresolved timestamp")

// ParseError describes a token that matched none of the known formats.
type ParseError struct {
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timestamp %q: %s", e.Token, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrUnresolved }

// Clock is a time of day. Hour is 24 only for the "24:00" end-of-day form.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

var dateLayouts = []string{
	"2006-1-2",
	"2-1-2006",
	"1-2-2006", // month-first, only reached when day-first is impossible
	"2/1/2006",
	"2.1.2006",
	"2-Jan-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
}

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	ofWord        = regexp.MustCompile(`(?i)\s+of\s+`)

	clockSuffix  = regexp.MustCompile(`(?i)\s*(hrs|hr|hours|hour|h)\.?$`)
	colonClock   = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::00)?$`)
	decimalClock = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})$`)
	hoursOnly    = regexp.MustCompile(`^(\d{1,2})$`)
	compactClock = regexp.MustCompile(`^(\d{1,2})(\d{2})$`)

	clockAtEnd   = regexp.MustCompile(`(?i)(?:^|[\sT,])(\d{1,2}:\d{2}(?::00)?(?:\s*(?:hrs|hr|hours|h)\.?)?|\d{1,2}\.\d{1,2}(?:\s*(?:hrs|hr|hours|h)\.?)?|\d{1,4}\s*(?:hrs|hr|hours|h)\.?)$`)
	clockAtStart = regexp.MustCompile(`(?i)^(\d{1,2}:\d{2}(?::00)?(?:\s*(?:hrs|hr|hours|h)\.?)?|\d{1,2}\.\d{1,2}(?:\s*(?:hrs|hr|hours|h)\.?)?|\d{1,4}\s*(?:hrs|hr|hours|h)\.?)[\s,]+(.+)$`)
)

// ParseDate parses a calendar date. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	token := collapse(s)
	if token == "" {
		return time.Time{}, &ParseError{Token: s, Reason: "missing date"}
	}

	cleaned := ordinalSuffix.ReplaceAllString(token, "$1")
	cleaned = ofWord.ReplaceAllString(cleaned, " ")

	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, cleaned); err == nil {
			return d, nil
		}
	}
	return time.Time{}, &ParseError{Token: s, Reason: "unknown date format"}
}

// ParseClock parses a time of day.
//
// Decimal forms are hours and a fraction of an hour: "5.30" is 05:18, not
// 05:30. Bare digit forms ("05", "600", "0530") are only accepted with an hours
// suffix, since without one they cannot be told apart from a year or count.
func ParseClock(s string) (Clock, error) {
	token := strings.ToUpper(collapse(s))
	if token == "" {
		return Clock{}, &ParseError{Token: s, Reason: "missing time"}
	}

	hasSuffix := clockSuffix.MatchString(token)
	token = strings.TrimSpace(clockSuffix.ReplaceAllString(token, ""))

	var c Clock
	switch {
	case colonClock.MatchString(token):
		m := colonClock.FindStringSubmatch(token)
		c = Clock{Hour: atoi(m[1]), Minute: atoi(m[2])}
	case decimalClock.MatchString(token):
		m := decimalClock.FindStringSubmatch(token)
		frac := atoi(m[2])
		scale := 10
		if len(m[2]) == 2 {
			scale = 100
		}
		c = Clock{Hour: atoi(m[1]), Minute: frac * 60 / scale}
	case hasSuffix && hoursOnly.MatchString(token):
		c = Clock{Hour: atoi(token)}
	case hasSuffix && compactClock.MatchString(token):
		m := compactClock.FindStringSubmatch(token)
		c = Clock{Hour: atoi(m[1]), Minute: atoi(m[2])}
	default:
		return Clock{}, &ParseError{Token: s, Reason: "unknown time format"}
	}

	if !c.valid() {
		return Clock{}, &ParseError{Token: s, Reason: "time out of range"}
	}
	return c, nil
}

func (c Clock) valid() bool {
	if c.Hour == 24 {
		return c.Minute == 0
	}
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// Normalize combines a date token and a time token into one instant.
// Both are required; neither is ever defaulted.
func Normalize(date, clock string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return time.Time{}, &ParseError{Token: clock, Reason: "missing date"}
	}
	if strings.TrimSpace(clock) == "" {
		return time.Time{}, &ParseError{Token: date, Reason: "missing time"}
	}

	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	c, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	// time.Date rolls 24:00 over to the next day.
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, time.UTC), nil
}

// Split separates a combined token such as "2019-10-11 05:00" or
// "0530 HRS 11th October 2019" into its date and time parts. Either part
// may come back empty.
func Split(token string) (date, clock string) {
	tok := collapse(token)
	if tok == "" {
		return "", ""
	}

	if idx := clockAtEnd.FindStringSubmatchIndex(tok); idx != nil {
		start := idx[2]
		clock = tok[start:idx[3]]
		if start > 0 {
			date = tok[:start-1]
		}
		return strings.TrimSuffix(strings.TrimSpace(date), ","), clock
	}

	if m := clockAtStart.FindStringSubmatch(tok); m != nil {
		return strings.TrimSpace(m[2]), m[1]
	}

	if _, err := ParseClock(tok); err == nil {
		return "", tok
	}
	return tok, ""
}

// Parse resolves a combined date/time token.
func Parse(token string) (time.Time, error) {
	date, clock := Split(token)
	if date == "" && clock == "" {
		return time.Time{}, &ParseError{Token: token, Reason: "empty token"}
	}
	return Normalize(date, clock)
}

// Format renders an instant in the wire layout.
func Format(t time.Time) string {
	return t.Format(models.TimeLayout)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
