package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/sof-server/internal/classifier"
	"github.com/portops/sof-server/internal/config"
	"github.com/portops/sof-server/internal/db"
	"github.com/portops/sof-server/internal/export"
	"github.com/portops/sof-server/internal/extract"
	"github.com/portops/sof-server/internal/metrics"
	"github.com/portops/sof-server/internal/models"
	"github.com/portops/sof-server/internal/timeline"
	"github.com/portops/sof-server/internal/uploads"
)

const testToken = "test_harbour_token"

var testNow = time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

type failingDetector struct{ err error }

func (f failingDetector) Detect(context.Context, extract.Document) (*models.Extraction, error) {
	return nil, f.err
}

type fixedHealth struct {
	at  time.Time
	err error
}

func (f fixedHealth) Health() (time.Time, error) { return f.at, f.err }

type testEnv struct {
	server *httptest.Server
	db     *db.DB
	cfg    *config.Config
}

func setupTestServer(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Port:               "0",
		DBPath:             filepath.Join(dir, "test.db"),
		UploadsPath:        filepath.Join(dir, "uploads"),
		Operators:          map[string]string{testToken: "harbour"},
		AIBackend:          config.BackendPattern,
		MaxUploadMB:        1,
		Retention:          24 * time.Hour,
		Timezone:           "UTC",
		RateLimitPerMinute: 0,
	}

	database, err := db.Open(cfg.DBPath)
	require.NoError(t, err)

	store, err := uploads.NewStore(cfg.UploadsPath)
	require.NoError(t, err)

	detector, err := extract.NewPatternDetector()
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(testNow)
	deps := Deps{
		Config:   cfg,
		DB:       database,
		Uploads:  store,
		Detector: detector,
		Builder: timeline.NewBuilder(
			classifier.NewClassifier(classifier.DefaultVocabulary()),
			metrics.NewReporter(clock),
			zerolog.Nop(),
		),
		Clock:  clock,
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	server := httptest.NewServer(NewRouter(NewHandlers(deps)))
	t.Cleanup(func() {
		server.Close()
		database.Close()
	})

	return &testEnv{server: server, db: database, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, filename, mode string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("sof_document", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if mode != "" {
		require.NoError(t, mw.WriteField("pdf_type", mode))
	}
	require.NoError(t, mw.Close())

	return e.do(t, http.MethodPost, "/api/v1/documents", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const sampleExtraction = `{
  "ship_details": {"vessel_name": "MV Ocean Star"},
  "events": [
    {"event": "NOR tendered", "start_time": "2019-10-11 06:00", "end_time": "2019-10-11 06:30"},
    {"event": "Pilot on board"},
    {"event": "Loading", "start_time": "2019-10-11 08:00", "end_time": "2019-10-11 12:00"},
    {"event": "Shifting as per CP", "start_time": "2019-10-11 13:00", "end_time": "2019-10-11 14:00"}
  ]
}`

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[models.HealthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "pattern", body.Detector)
	assert.Equal(t, "connected", body.Database)
	assert.Equal(t, "1.0.0", body.Version)
}

func TestHealthReportsBackendProbe(t *testing.T) {
	tests := []struct {
		name   string
		health HealthReporter
		want   string
	}{
		{"no probe", nil, "not configured"},
		{"not yet probed", fixedHealth{}, "pending"},
		{"reachable", fixedHealth{at: testNow}, "connected"},
		{"unreachable", fixedHealth{at: testNow, err: errors.New("dial tcp: refused")}, "error: dial tcp: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, func(d *Deps) {
				d.Config.AIBackend = config.BackendGemini
				d.Health = tt.health
			})

			resp, err := http.Get(env.server.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, decode[models.HealthResponse](t, resp).Detector)
		})
	}
}

func TestRequiresAuth(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Post(env.server.URL+"/api/v1/reconcile", "application/json", strings.NewReader(sampleExtraction))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decode[ErrorResponse](t, resp2).Code)
}

func TestReconcileEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/reconcile", strings.NewReader(sampleExtraction), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[models.Report](t, resp)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "MV Ocean Star", report.ShipDetails.VesselName)
	assert.Equal(t, []models.Event{
		{Event: "NOR tendered", StartTime: "2019-10-11 06:00", EndTime: "2019-10-11 06:30"},
		{Event: "Loading", StartTime: "2019-10-11 08:00", EndTime: "2019-10-11 12:00"},
	}, report.Events)
	assert.Equal(t, []models.UnresolvedEntry{
		{Event: "Pilot on board", Reason: models.ReasonNoContext},
	}, report.UnresolvedEvents)
	assert.Equal(t, 3, report.Analysis.TotalEventsFound)
	assert.Equal(t, testNow.Format(metrics.TimestampLayout), report.Analysis.ParsingTimestamp)

	run, err := env.db.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "harbour", run.Operator)
	assert.Equal(t, models.ModeExtraction, run.Mode)
	assert.Equal(t, testNow.Add(24*time.Hour), run.ExpiresAt)
}

func TestReconcileRejectsBadBody(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/reconcile", strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", decode[ErrorResponse](t, resp).Code)
}

func TestUploadDocument(t *testing.T) {
	env := setupTestServer(t)

	content := "All fast 2019-10-11 08:00\nCommenced loading operation 2019-10-11 09:00 - 12:00\n"
	resp := env.upload(t, "Vessel SoF.txt", "text", []byte(content))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[models.Report](t, resp)

	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Events, 2)
	assert.Equal(t, "All Fast", report.Events[0].Event)
	assert.Equal(t, "2019-10-11 08:00", report.Events[0].StartTime)
	assert.Equal(t, "2019-10-11 12:00", report.Events[1].EndTime)

	run, err := env.db.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Vessel SoF.txt", run.Filename)
	assert.Equal(t, config.BackendPattern, run.Backend)
	assert.FileExists(t, run.UploadPath)
}

func TestUploadDocumentErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mode     string
		content  []byte
		detector extract.Detector
		status   int
		code     string
	}{
		{"unsupported extension", "sof.exe", "text", []byte("x"), nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE"},
		{"bad mode", "sof.txt", "scan", []byte("x"), nil, http.StatusBadRequest, "INVALID_MODE"},
		{"empty file", "sof.txt", "text", nil, nil, http.StatusBadRequest, "EMPTY_FILE"},
		{"pattern detector on pdf", "sof.pdf", "photo", []byte("%PDF-1.4"), nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE"},
		{"backend down", "sof.pdf", "text", []byte("%PDF-1.4"), failingDetector{errors.New("after 3 attempts: timeout")}, http.StatusBadGateway, "EXTRACTION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, func(d *Deps) {
				if tt.detector != nil {
					d.Detector = tt.detector
				}
			})

			resp := env.upload(t, tt.filename, tt.mode, tt.content)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, resp).Code)

			runs, err := env.db.ListRuns(context.Background(), "", 0)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestUploadDocumentTooLarge(t *testing.T) {
	env := setupTestServer(t)
	h := NewHandlers(Deps{Config: env.cfg, DB: env.db, Logger: zerolog.Nop()})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("sof_document", "sof.txt")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("a"), 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.UploadDocument(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FILE_TOO_LARGE", body.Code)
}

func TestRunsAndDownloads(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/reconcile", strings.NewReader(sampleExtraction), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runID := decode[models.Report](t, resp).RunID

	resp = env.do(t, http.MethodGet, "/api/v1/runs", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[models.RunsResponse](t, resp)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, runID, runs.Runs[0].RunID)
	assert.Equal(t, 2, runs.Runs[0].Resolved)
	assert.Equal(t, 1, runs.Runs[0].Unresolved)

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, runID, decode[models.Report](t, resp).RunID)

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/download/csv", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="`+export.CSVFilename+`"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "event,start_time,end_time\n"+
		"NOR tendered,2019-10-11 06:00,2019-10-11 06:30\n"+
		"Loading,2019-10-11 08:00,2019-10-11 12:00\n", string(body))

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/download/json", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="`+export.JSONFilename+`"`, resp.Header.Get("Content-Disposition"))
	assert.Len(t, decode[models.Report](t, resp).Events, 2)

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/download/xlsx", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/runs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, resp).Code)

	resp = env.do(t, http.MethodGet, "/api/v1/runs?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewAdjudication(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/reconcile", strings.NewReader(sampleExtraction), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runID := decode[models.Report](t, resp).RunID

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/reviews", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reviews := decode[models.ReviewsResponse](t, resp)
	require.Len(t, reviews.Reviews, 1)
	pending := reviews.Reviews[0]
	assert.Equal(t, "Pilot on board", pending.Event)
	assert.Equal(t, models.ReasonNoContext, pending.Reason)
	assert.Equal(t, models.ReviewPending, pending.Status)

	path := "/api/v1/runs/" + runID + "/reviews/" + strconv.Itoa(pending.Seq)

	resp = env.do(t, http.MethodPost, path, strings.NewReader(`{"start_time": "2019-10-11 07:00"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_RANGE", decode[ErrorResponse](t, resp).Code)

	resp = env.do(t, http.MethodPost, path, strings.NewReader(`{"start_time": "2019-10-11 08:00", "end_time": "2019-10-11 07:00"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, strings.NewReader(`{"start_time": "2019-10-11 07:00", "end_time": "2019-10-11 07:00"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "zero-length ranges are rejected")
	assert.Equal(t, "INVALID_RANGE", decode[ErrorResponse](t, resp).Code)

	resp = env.do(t, http.MethodPost, path,
		strings.NewReader(`{"start_time": "11th October 2019 0700 HRS", "end_time": "11.10.2019 07:20", "note": "from pilot card"}`),
		"application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode[models.Review](t, resp)
	assert.Equal(t, models.ReviewAdjudicated, closed.Status)
	assert.Equal(t, "2019-10-11 07:00", closed.StartTime)
	assert.Equal(t, "2019-10-11 07:20", closed.EndTime)
	assert.Equal(t, "harbour", closed.Operator)
	assert.Equal(t, "from pilot card", closed.Note)

	resp = env.do(t, http.MethodPost, path, strings.NewReader(`{"dismiss": true}`), "application/json")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "REVIEW_CLOSED", decode[ErrorResponse](t, resp).Code)

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/reviews?status=pending", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[models.ReviewsResponse](t, resp).Reviews)

	resp = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/reviews/99", strings.NewReader(`{"dismiss": true}`), "application/json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// the stored report is left as reconciled
	run, err := env.db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, run.Report.UnresolvedEvents, 1)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10)
	assert.True(t, rl.Allow("harbour"))
	assert.False(t, rl.Allow("harbour"), "burst is one request at 10/min")
	assert.True(t, rl.Allow("agent"), "operators have separate buckets")

	unlimited := NewRateLimiter(0)
	for range 100 {
		require.True(t, unlimited.Allow("harbour"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := setupTestServer(t, func(d *Deps) { d.Config.RateLimitPerMinute = 1 })

	resp := env.do(t, http.MethodGet, "/api/v1/runs", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/runs", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, resp).Code)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}
