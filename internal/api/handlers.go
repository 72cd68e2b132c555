package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portops/sof-server/internal/config"
	"github.com/portops/sof-server/internal/db"
	"github.com/portops/sof-server/internal/export"
	"github.com/portops/sof-server/internal/extract"
	"github.com/portops/sof-server/internal/llm"
	"github.com/portops/sof-server/internal/models"
	"github.com/portops/sof-server/internal/timeline"
	"github.com/portops/sof-server/internal/timestamp"
	"github.com/portops/sof-server/internal/uploads"
)

const (
	version = "1.0.0"

	// multipart parts beyond this are spooled to disk
	maxMemory = 8 << 20

	defaultRunsLimit = 50
	maxRunsLimit     = 200

	detectTimeout = 3 * time.Minute
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthReporter exposes the last AI backend probe.
type HealthReporter interface {
	Health() (checkedAt time.Time, err error)
}

// Deps are the collaborators the handlers need. Health may be nil when the
// backend is not probed.
type Deps struct {
	Config   *config.Config
	DB       *db.DB
	Uploads  *uploads.Store
	Detector extract.Detector
	Builder  *timeline.Builder
	Health   HealthReporter
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

type Handlers struct {
	cfg      *config.Config
	db       *db.DB
	uploads  *uploads.Store
	detector extract.Detector
	builder  *timeline.Builder
	health   HealthReporter
	clock    clockwork.Clock
	logger   zerolog.Logger
}

func NewHandlers(d Deps) *Handlers {
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handlers{
		cfg:      d.Config,
		db:       d.DB,
		uploads:  d.Uploads,
		detector: d.Detector,
		builder:  d.Builder,
		health:   d.Health,
		clock:    clock,
		logger:   d.Logger,
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:   "ok",
		Detector: h.checkDetector(),
		Database: h.checkDatabase(r.Context()),
		Version:  version,
	}
	if resp.Database != "connected" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) checkDetector() string {
	if h.cfg.AIBackend == config.BackendPattern {
		return "pattern"
	}
	if h.health == nil {
		return "not configured"
	}
	checked, err := h.health.Health()
	switch {
	case checked.IsZero():
		return "pending"
	case err != nil:
		return "error: " + err.Error()
	}
	return "connected"
}

func (h *Handlers) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "connected"
}

// UploadDocument handles POST /documents
func (h *Handlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds %d MB", h.cfg.MaxUploadMB), "FILE_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_BODY")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("sof_document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "sof_document is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	mode := strings.ToLower(strings.TrimSpace(r.FormValue("pdf_type")))
	if mode == "" {
		mode = models.ModeText
	}
	if !extract.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, "pdf_type must be text or photo", "INVALID_MODE")
		return
	}

	mime, err := extract.MIMEType(header.Filename)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_FILE")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload", "INVALID_BODY")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "sof_document is empty", "EMPTY_FILE")
		return
	}

	operator := GetOperator(r)
	runID := uuid.NewString()
	log := h.logger.With().Str("run_id", runID).Str("operator", operator).Logger()

	path, err := h.uploads.Save(runID, header.Filename, data)
	if err != nil {
		log.Error().Err(err).Msg("failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload", "WRITE_ERROR")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), detectTimeout)
	defer cancel()

	ext, err := h.detector.Detect(ctx, extract.Document{
		Filename: header.Filename,
		MIMEType: mime,
		Data:     data,
		Mode:     mode,
	})
	if err != nil {
		h.discard(path, log)
		if errors.Is(err, llm.ErrUnsupportedDocument) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_FILE")
			return
		}
		log.Warn().Err(err).Str("file", header.Filename).Msg("extraction failed")
		writeError(w, http.StatusBadGateway, "could not extract events from document", "EXTRACTION_FAILED")
		return
	}

	run := &db.Run{
		RunID:      runID,
		Operator:   operator,
		Filename:   header.Filename,
		Mode:       mode,
		Backend:    h.cfg.AIBackend,
		UploadPath: path,
	}
	report, err := h.complete(r.Context(), run, *ext)
	if err != nil {
		h.discard(path, log)
		log.Error().Err(err).Msg("failed to save run")
		writeError(w, http.StatusInternalServerError, "failed to save run", "DB_ERROR")
		return
	}

	log.Info().
		Str("file", header.Filename).
		Str("mode", mode).
		Int("resolved", len(report.Events)).
		Int("unresolved", len(report.UnresolvedEvents)).
		Msg("document reconciled")

	writeJSON(w, http.StatusOK, report)
}

// Reconcile handles POST /reconcile
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes())

	var ext models.Extraction
	if err := json.NewDecoder(r.Body).Decode(&ext); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	run := &db.Run{
		RunID:    uuid.NewString(),
		Operator: GetOperator(r),
		Filename: "extraction.json",
		Mode:     models.ModeExtraction,
		Backend:  "none",
	}
	report, err := h.complete(r.Context(), run, ext)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", run.RunID).Msg("failed to save run")
		writeError(w, http.StatusInternalServerError, "failed to save run", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// complete builds the report for an extraction and stores the run.
func (h *Handlers) complete(ctx context.Context, run *db.Run, ext models.Extraction) (*models.Report, error) {
	out := h.builder.Build(ext)

	now := h.clock.Now().UTC()
	run.Report = out.Report
	run.Report.RunID = run.RunID
	run.CreatedAt = now
	run.ExpiresAt = now.Add(h.cfg.Retention)

	if err := h.db.SaveRun(ctx, run, out.Unresolved); err != nil {
		return nil, err
	}
	return &run.Report, nil
}

func (h *Handlers) discard(path string, log zerolog.Logger) {
	if err := h.uploads.Remove(path); err != nil {
		log.Warn().Err(err).Msg("could not remove upload")
	}
}

// ListRuns handles GET /runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.db.ListRuns(r.Context(), r.URL.Query().Get("operator"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, models.RunsResponse{Runs: runs})
}

// GetRun handles GET /runs/{runID}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Report)
}

// Download handles GET /runs/{runID}/download/{filetype}
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	filetype := strings.ToLower(chi.URLParam(r, "filetype"))
	if filetype != string(export.FormatJSON) && filetype != string(export.FormatCSV) {
		writeError(w, http.StatusBadRequest, "filetype must be json or csv", "INVALID_FILETYPE")
		return
	}

	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var err error
	switch export.Format(filetype) {
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.JSONFilename+`"`)
		err = export.JSON(w, &run.Report)
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.CSVFilename+`"`)
		err = export.CSV(w, run.Report.Events)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("run_id", run.RunID).Msg("download interrupted")
	}
}

// Reviews handles GET /runs/{runID}/reviews
func (h *Handlers) Reviews(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var (
		reviews []models.Review
		err     error
	)
	if r.URL.Query().Get("status") == models.ReviewPending {
		reviews, err = h.db.PendingReviews(r.Context(), run.RunID)
	} else {
		reviews, err = h.db.Reviews(r.Context(), run.RunID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}

	writeJSON(w, http.StatusOK, models.ReviewsResponse{RunID: run.RunID, Reviews: reviews})
}

// Adjudicate handles POST /runs/{runID}/reviews/{seq}
func (h *Handlers) Adjudicate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 0 {
		writeError(w, http.StatusBadRequest, "seq must be a non-negative integer", "INVALID_SEQ")
		return
	}

	var req models.AdjudicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	res := db.Resolution{
		Status:   models.ReviewDismissed,
		Operator: GetOperator(r),
		Note:     strings.TrimSpace(req.Note),
	}
	if !req.Dismiss {
		start, end, msg := parseRange(req.StartTime, req.EndTime)
		if msg != "" {
			writeError(w, http.StatusBadRequest, msg, "INVALID_RANGE")
			return
		}
		res.Status = models.ReviewAdjudicated
		res.StartTime = timestamp.Format(start)
		res.EndTime = timestamp.Format(end)
	}

	err = h.db.ResolveReview(r.Context(), runID, seq, res, h.clock.Now())
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "review not found", "NOT_FOUND")
		return
	case errors.Is(err, db.ErrReviewClosed):
		writeError(w, http.StatusConflict, err.Error(), "REVIEW_CLOSED")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	reviews, err := h.db.Reviews(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}
	for _, rev := range reviews {
		if rev.Seq == seq {
			h.logger.Info().Str("run_id", runID).Int("seq", seq).Str("status", rev.Status).
				Str("operator", res.Operator).Msg("review closed")
			writeJSON(w, http.StatusOK, rev)
			return
		}
	}
	writeError(w, http.StatusNotFound, "review not found", "NOT_FOUND")
}

// parseRange accepts anything the timestamp normalizer does, so operators
// can paste tokens straight from the document.
func parseRange(startTok, endTok string) (start, end time.Time, msg string) {
	if strings.TrimSpace(startTok) == "" || strings.TrimSpace(endTok) == "" {
		return start, end, "start_time and end_time are required unless dismiss is set"
	}
	start, err := timestamp.Parse(startTok)
	if err != nil {
		return start, end, "start_time: " + err.Error()
	}
	end, err = timestamp.Parse(endTok)
	if err != nil {
		return start, end, "end_time: " + err.Error()
	}
	if !start.Before(end) {
		return start, end, "end_time must be after start_time"
	}
	return start, end, ""
}

func (h *Handlers) loadRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	run, err := h.db.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return nil, false
	}
	return run, true
}
