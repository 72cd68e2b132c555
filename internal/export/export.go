// Package export renders reports for download and for the terminal.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/portops/sof-server/internal/models"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Download filenames
const (
	JSONFilename = "sof_complete_data.json"
	CSVFilename  = "sof_events.csv"
)

// CSVHeader is the exact column set of the events CSV.
var CSVHeader = []string{"event", "start_time", "end_time"}

// ParseFormat validates a format name. Empty means auto-detect for w.
func ParseFormat(s string, w io.Writer) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case FormatJSON, FormatCSV, FormatYAML, FormatTable:
		return format, nil
	case "":
		return DetectFormat(w), nil
	}
	return "", fmt.Errorf("unknown format %q (want json, csv, yaml or table)", s)
}

// DetectFormat picks a table when w is a terminal and JSON otherwise.
func DetectFormat(w io.Writer) Format {
	f, ok := w.(*os.File)
	if ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return FormatTable
	}
	return FormatJSON
}

// Write renders report in the given format.
func Write(w io.Writer, format Format, report *models.Report) error {
	switch format {
	case FormatJSON:
		return JSON(w, report)
	case FormatCSV:
		return CSV(w, report.Events)
	case FormatYAML:
		return YAML(w, report)
	case FormatTable:
		return Table(w, report)
	}
	return fmt.Errorf("unknown format %q", format)
}

// JSON writes the full report, indented.
func JSON(w io.Writer, report *models.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// CSV writes the resolved events only. The header is written even when
// there are no events.
func CSV(w io.Writer, events []models.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write([]string{ev.Event, ev.StartTime, ev.EndTime}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// YAML writes the full report.
func YAML(w io.Writer, report *models.Report) error {
	data, err := yaml.MarshalWithOptions(report,
		yaml.Indent(2),
		yaml.IndentSequence(false),
	)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Table writes the timeline, the unresolved entries and the analysis as
// terminal tables.
func Table(w io.Writer, report *models.Report) error {
	if name := report.ShipDetails.VesselName; name != "" {
		fmt.Fprintf(w, "Vessel: %s\n", name)
	}

	rows := make([][]string, 0, len(report.Events))
	for _, ev := range report.Events {
		rows = append(rows, []string{ev.Event, ev.StartTime, ev.EndTime})
	}
	if err := renderTable(w, []string{"Event", "Start", "End"}, rows); err != nil {
		return err
	}

	if len(report.UnresolvedEvents) > 0 {
		fmt.Fprintln(w, "\nUnresolved:")
		rows = rows[:0]
		for _, u := range report.UnresolvedEvents {
			rows = append(rows, []string{u.Event, string(u.Reason)})
		}
		if err := renderTable(w, []string{"Event", "Reason"}, rows); err != nil {
			return err
		}
	}

	a := report.Analysis
	fmt.Fprintln(w)
	return renderTable(w, []string{"Found", "Parsed", "Skipped", "Success %", "Parsed at"}, [][]string{{
		strconv.Itoa(a.TotalEventsFound),
		strconv.Itoa(a.SuccessfullyParsed),
		strconv.Itoa(a.SkippedEvents),
		strconv.FormatFloat(a.SuccessRate, 'f', 2, 64),
		a.ParsingTimestamp,
	}})
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	config := tablewriter.Config{}
	config.Row.Alignment = tw.CellAlignment{Global: tw.AlignLeft}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	table.Header(header...)

	for _, row := range rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}
