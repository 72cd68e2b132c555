package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/sof-server/internal/models"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const extraction = `{
  "events": [
    {"event": "Loading", "start_time": "2019-10-11 08:00", "end_time": "2019-10-11 16:00"},
    {"event": "Lunch break", "start_time": "2019-10-11 12:00", "end_time": "2019-10-11 13:00"},
    {"event": "Hoses connected"}
  ]
}`

func TestReconcileCommand(t *testing.T) {
	path := writeFile(t, "extraction.json", extraction)

	out, err := execute(t, "", "reconcile", path, "--format", "json")
	require.NoError(t, err)

	var report models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Events, 2)
	assert.Equal(t, []models.UnresolvedEntry{{Event: "Hoses connected", Reason: models.ReasonNoContext}}, report.UnresolvedEvents)
	assert.Equal(t, 3, report.Analysis.TotalEventsFound)
}

func TestReconcileCommandStdinCSV(t *testing.T) {
	out, err := execute(t, extraction, "reconcile", "-", "-f", "csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "event,start_time,end_time", lines[0])
	assert.Len(t, lines, 3)
}

func TestReconcileCommandDefaultsToJSON(t *testing.T) {
	out, err := execute(t, extraction, "reconcile", "-")
	require.NoError(t, err)

	var report models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), "output that is not a terminal gets JSON")
	assert.Len(t, report.Events, 2)
}

func TestReconcileCommandErrors(t *testing.T) {
	_, err := execute(t, "", "reconcile", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = execute(t, "{", "reconcile", "-", "-f", "json")
	assert.ErrorContains(t, err, "decoding extraction")

	_, err = execute(t, extraction, "reconcile", "-", "-f", "xml")
	assert.Error(t, err)

	_, err = execute(t, "", "reconcile")
	assert.Error(t, err)
}

func TestReconcileCommandVocabulary(t *testing.T) {
	vocab := writeFile(t, "vocab.yaml", "exclusion_markers:\n  - hoses\n")

	out, err := execute(t, extraction, "reconcile", "-", "-f", "json", "--vocabulary", vocab)
	require.NoError(t, err)

	var report models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.UnresolvedEvents, "hoses entry is excluded")
	assert.Equal(t, 2, report.Analysis.TotalEventsFound)
}

func TestScanCommand(t *testing.T) {
	path := writeFile(t, "sof.txt", "All fast 2019-10-11 08:00\nCommenced loading operation 2019-10-11 09:00 - 12:00\n")

	out, err := execute(t, "", "scan", path, "-f", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "event: All Fast")
	assert.Contains(t, out, "2019-10-11 08:00")
	assert.Contains(t, out, "successfully_parsed: 2")
}

func TestScanCommandTable(t *testing.T) {
	path := writeFile(t, "sof.txt", "All fast 2019-10-11 08:00\n")

	out, err := execute(t, "", "scan", path, "-f", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "All Fast")
	assert.Contains(t, out, "2019-10-11 08:00")
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "", "normalize", "11th October 2019 0600 HRS", "11.10.2019 14:30")
	require.NoError(t, err)
	assert.Equal(t, "11th October 2019 0600 HRS\t2019-10-11 06:00\n11.10.2019 14:30\t2019-10-11 14:30\n", out)

	out, err = execute(t, "", "normalize", "2019-10-11 05:00", "06:00")
	assert.ErrorContains(t, err, "1 of 2 tokens")
	assert.Contains(t, out, "06:00\t!!")
}
