package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/portops/sof-server/internal/llm"
	"github.com/portops/sof-server/internal/models"
)

// DefaultEventPatterns is the maritime event vocabulary the pattern
// detector looks for, most specific first.
var DefaultEventPatterns = []string{
	`notice of readiness`,
	`nor tendered`,
	`dropped anchor`,
	`anchor aweigh`,
	`arrived pilot station`,
	`pilot on board`,
	`free pratique granted`,
	`first line ashore`,
	`all fast`,
	`commence\w*.*?survey`,
	`completed.*?survey`,
	`commenced.*?operation`,
	`completed.*?operation`,
	`cargo operation`,
	`cargo documentation`,
	`hoses? (?:connected|disconnected)`,
	`vessel sailed`,
	`eta next port`,
	`rest(?: period)?`,
	`\w*\s?break`,
}

// contextLines is how far above and below an event line to look for a
// missing date or time.
const contextLines = 2

var (
	datePattern = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}-\d{1,2}-\d{1,2}` +
		`|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?[a-z]{3,9}\.?,?\s+\d{4}` +
		`|[a-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`)\b`)
	timePattern = regexp.MustCompile(`(?i)\b(?:` +
		`\d{1,2}:\d{2}(?:\s*(?:hrs|hr|hours|h)\b)?` +
		`|\d{1,2}\.\d{2}(?:\s*(?:hrs|hr|hours|h)\b)?` +
		`|\d{1,4}\s*(?:hrs|hr|hours|h)\b` +
		`)`)

	vesselLine  = regexp.MustCompile(`(?i)^\s*(?:vessel|ship)(?:'s)?\s*(?:name)?\s*[:\-]\s*(.+)$`)
	imoLine     = regexp.MustCompile(`(?i)\bIMO\s*(?:no\.?|number)?\s*[:\-]?\s*(\d{7})\b`)
	captainLine = regexp.MustCompile(`(?i)^\s*(?:master|captain)\s*(?:name)?\s*[:\-]\s*(.+)$`)
	ownerLine   = regexp.MustCompile(`(?i)^\s*owners?\s*[:\-]\s*(.+)$`)
	flagLine    = regexp.MustCompile(`(?i)^\s*flag(?:\s*state)?\s*[:\-]\s*(.+)$`)
)

// PatternDetector finds events in plain text with regular expressions. It
// needs no AI backend and only reads text documents.
type PatternDetector struct {
	events []*regexp.Regexp
}

// NewPatternDetector compiles the given event patterns, or
// DefaultEventPatterns when none are given.
func NewPatternDetector(patterns ...string) (*PatternDetector, error) {
	if len(patterns) == 0 {
		patterns = DefaultEventPatterns
	}

	d := &PatternDetector{}
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)\b` + p + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling event pattern %q: %w", p, err)
		}
		d.events = append(d.events, re)
	}
	return d, nil
}

// Detect scans the document line by line.
func (d *PatternDetector) Detect(_ context.Context, doc Document) (*models.Extraction, error) {
	if !isText(doc.MIMEType) {
		return nil, fmt.Errorf("pattern detector cannot read %s: %w", doc.MIMEType, llm.ErrUnsupportedDocument)
	}
	return d.Scan(string(doc.Data)), nil
}

// Scan extracts ship details and events from plain text.
func (d *PatternDetector) Scan(text string) *models.Extraction {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	ext := &models.Extraction{Events: []models.RawCandidate{}}

	for i, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if d.shipDetail(&ext.ShipDetails, line) {
			continue
		}

		name, ok := d.eventName(line)
		if !ok {
			continue
		}

		date, times := dateAndTimes(line)
		if date == "" || len(times) == 0 {
			ctxDate, ctxTimes := dateAndTimes(around(lines, i))
			if date == "" {
				date = ctxDate
			}
			if len(times) == 0 && len(ctxTimes) > 0 {
				times = ctxTimes[:1]
			}
		}

		rc := models.RawCandidate{Name: name}
		if len(times) > 0 {
			rc.StartToken = joinToken(date, times[0])
		}
		if len(times) > 1 {
			rc.EndToken = joinToken(date, times[1])
		}
		if strings.Contains(strings.ToLower(line), "(cp)") {
			rc.Tags = append(rc.Tags, "cp")
		}
		ext.Events = append(ext.Events, rc)
	}
	return ext
}

func (d *PatternDetector) eventName(line string) (string, bool) {
	for _, re := range d.events {
		if m := re.FindString(line); m != "" {
			// Casers are stateful, so one per call.
			return cases.Title(language.English).String(strings.TrimSpace(m)), true
		}
	}
	return "", false
}

func (d *PatternDetector) shipDetail(sd *models.ShipDetails, line string) bool {
	found := false
	if m := imoLine.FindStringSubmatch(line); m != nil {
		found = true
		if sd.IMONumber == "" {
			sd.IMONumber = m[1]
		}
		line = strings.TrimSpace(imoLine.ReplaceAllString(line, ""))
	}

	fields := []struct {
		value *string
		re    *regexp.Regexp
	}{
		{&sd.VesselName, vesselLine},
		{&sd.Captain, captainLine},
		{&sd.Owner, ownerLine},
		{&sd.FlagState, flagLine},
	}
	for _, f := range fields {
		if m := f.re.FindStringSubmatch(line); m != nil {
			if *f.value == "" {
				*f.value = strings.Trim(m[1], " ,;")
			}
			return true
		}
	}
	return found
}

// dateAndTimes returns the first date in s and the times that remain once
// every date is blanked out, so "11.10.2019" is not read as a time.
func dateAndTimes(s string) (string, []string) {
	var date string
	blanked := datePattern.ReplaceAllStringFunc(s, func(m string) string {
		if date == "" {
			date = m
		}
		return strings.Repeat(" ", len(m))
	})
	return date, timePattern.FindAllString(blanked, 2)
}

func around(lines []string, i int) string {
	lo := max(0, i-contextLines)
	hi := min(len(lines), i+contextLines+1)
	return strings.Join(lines[lo:hi], " ")
}

func joinToken(date, clock string) string {
	if date == "" {
		return clock
	}
	return date + " " + clock
}
