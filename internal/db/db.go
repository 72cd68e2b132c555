package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/portops/sof-server/internal/models"
)

var (
	// ErrNotFound is returned when a run or review does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReviewClosed is returned when adjudicating a review that is no longer pending.
	ErrReviewClosed = errors.New("review already closed")
)

const schema = `
-- One row per processed document
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    operator TEXT NOT NULL,
    filename TEXT NOT NULL,
    mode TEXT NOT NULL,
    backend TEXT NOT NULL,
    upload_path TEXT,
    report TEXT NOT NULL,
    resolved INTEGER NOT NULL,
    unresolved INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);

-- Unresolved entries awaiting operator adjudication
CREATE TABLE IF NOT EXISTS unresolved_reviews (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    event TEXT NOT NULL,
    reason TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    start_time TEXT,
    end_time TEXT,
    operator TEXT,
    note TEXT,
    resolved_at TEXT,
    PRIMARY KEY (run_id, seq)
);

-- Scheduler job tracking
CREATE TABLE IF NOT EXISTS scheduler_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_operator ON runs(operator, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_expires ON runs(expires_at);
CREATE INDEX IF NOT EXISTS idx_reviews_status ON unresolved_reviews(run_id, status);
CREATE INDEX IF NOT EXISTS idx_scheduler_job ON scheduler_runs(job_type, started_at);
`

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Run is a stored reconciliation run.
type Run struct {
	RunID      string
	Operator   string
	Filename   string
	Mode       string
	Backend    string
	UploadPath string
	Report     models.Report
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Summary returns the listing form of the run.
func (r *Run) Summary() models.RunSummary {
	return models.RunSummary{
		RunID:      r.RunID,
		Operator:   r.Operator,
		Filename:   r.Filename,
		Mode:       r.Mode,
		Resolved:   len(r.Report.Events),
		Unresolved: len(r.Report.UnresolvedEvents),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

// SaveRun stores a run and opens a pending review for each unresolved event.
func (db *DB) SaveRun(ctx context.Context, run *Run, unresolved []models.UnresolvedEvent) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, operator, filename, mode, backend, upload_path, report, resolved, unresolved, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Operator, run.Filename, run.Mode, run.Backend, nullString(run.UploadPath), string(report),
		len(run.Report.Events), len(run.Report.UnresolvedEvents),
		run.CreatedAt.UTC().Format(time.RFC3339), run.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, u := range unresolved {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO unresolved_reviews (run_id, seq, event, reason, status)
			VALUES (?, ?, ?, ?, ?)
		`, run.RunID, u.Seq, u.Name, string(u.Reason), models.ReviewPending)
		if err != nil {
			return fmt.Errorf("inserting review %d: %w", u.Seq, err)
		}
	}

	return tx.Commit()
}

// GetRun returns a run by id.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var uploadPath sql.NullString
	var report, createdStr, expiresStr string
	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, operator, filename, mode, backend, upload_path, report, created_at, expires_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.Operator, &r.Filename, &r.Mode, &r.Backend, &uploadPath, &report, &createdStr, &expiresStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(report), &r.Report); err != nil {
		return nil, fmt.Errorf("decoding report for run %s: %w", runID, err)
	}
	r.UploadPath = uploadPath.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	r.ExpiresAt, _ = time.Parse(time.RFC3339, expiresStr)
	return &r, nil
}

// ListRuns returns the newest runs first, optionally for one operator.
func (db *DB) ListRuns(ctx context.Context, operator string, limit int) ([]models.RunSummary, error) {
	query := `SELECT run_id, operator, filename, mode, resolved, unresolved, created_at, expires_at FROM runs WHERE 1=1`
	var args []any

	if operator != "" {
		query += ` AND operator = ?`
		args = append(args, operator)
	}
	query += ` ORDER BY created_at DESC, run_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var s models.RunSummary
		var createdStr, expiresStr string
		if err := rows.Scan(&s.RunID, &s.Operator, &s.Filename, &s.Mode, &s.Resolved, &s.Unresolved, &createdStr, &expiresStr); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresStr)
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// ExpiredRun identifies a deleted run and the upload it left behind.
type ExpiredRun struct {
	RunID      string
	UploadPath string
}

// ExpireRuns deletes runs whose expiry is at or before now, with their reviews.
func (db *DB) ExpireRuns(ctx context.Context, now time.Time) ([]ExpiredRun, error) {
	cutoff := now.UTC().Format(time.RFC3339)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT run_id, upload_path FROM runs WHERE expires_at <= ?
	`, cutoff)
	if err != nil {
		return nil, err
	}

	var expired []ExpiredRun
	for rows.Next() {
		var e ExpiredRun
		var uploadPath sql.NullString
		if err := rows.Scan(&e.RunID, &uploadPath); err != nil {
			rows.Close()
			return nil, err
		}
		e.UploadPath = uploadPath.String
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unresolved_reviews WHERE run_id = ?`, e.RunID); err != nil {
			return nil, fmt.Errorf("deleting reviews for %s: %w", e.RunID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, e.RunID); err != nil {
			return nil, fmt.Errorf("deleting run %s: %w", e.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

// Reviews returns every review for a run in document order.
func (db *DB) Reviews(ctx context.Context, runID string) ([]models.Review, error) {
	return db.reviews(ctx, runID, "")
}

// PendingReviews returns the reviews still awaiting adjudication.
func (db *DB) PendingReviews(ctx context.Context, runID string) ([]models.Review, error) {
	return db.reviews(ctx, runID, models.ReviewPending)
}

func (db *DB) reviews(ctx context.Context, runID, status string) ([]models.Review, error) {
	query := `SELECT seq, event, reason, status, start_time, end_time, operator, note
		FROM unresolved_reviews WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY seq`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		var reason string
		var start, end, operator, note sql.NullString
		if err := rows.Scan(&r.Seq, &r.Event, &reason, &r.Status, &start, &end, &operator, &note); err != nil {
			return nil, err
		}
		r.Reason = models.Reason(reason)
		r.StartTime = start.String
		r.EndTime = end.String
		r.Operator = operator.String
		r.Note = note.String
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// Resolution is an operator's decision on one review.
type Resolution struct {
	Status    string // models.ReviewAdjudicated or models.ReviewDismissed
	StartTime string
	EndTime   string
	Operator  string
	Note      string
}

// ResolveReview closes a pending review.
func (db *DB) ResolveReview(ctx context.Context, runID string, seq int, res Resolution, now time.Time) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE unresolved_reviews
		SET status = ?, start_time = ?, end_time = ?, operator = ?, note = ?, resolved_at = ?
		WHERE run_id = ? AND seq = ? AND status = ?
	`, res.Status, nullString(res.StartTime), nullString(res.EndTime), res.Operator, nullString(res.Note),
		now.UTC().Format(time.RFC3339), runID, seq, models.ReviewPending)
	if err != nil {
		return fmt.Errorf("updating review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = db.conn.QueryRowContext(ctx, `
		SELECT status FROM unresolved_reviews WHERE run_id = ? AND seq = ?
	`, runID, seq).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("review %s/%d: %w", runID, seq, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("review %s/%d is %s: %w", runID, seq, status, ErrReviewClosed)
}

// JobRun tracks a scheduler job execution
type JobRun struct {
	ID           int64
	JobType      string
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// LogJob records the start of a scheduler job
func (db *DB) LogJob(ctx context.Context, jobType string, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO scheduler_runs (job_type, status, started_at)
		VALUES (?, 'running', ?)
	`, jobType, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteJob marks a scheduler job as completed
func (db *DB) CompleteJob(ctx context.Context, id int64, errMsg string, now time.Time) error {
	status := "completed"
	if errMsg != "" {
		status = "failed"
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE scheduler_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, now.UTC().Format(time.RFC3339), errMsg, id)
	return err
}

// LastJob returns the most recent run of a job type.
func (db *DB) LastJob(ctx context.Context, jobType string) (*JobRun, error) {
	var run JobRun
	var startedStr string
	var completedStr, errMsg sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, job_type, status, started_at, completed_at, error_message
		FROM scheduler_runs
		WHERE job_type = ?
		ORDER BY id DESC
		LIMIT 1
	`, jobType).Scan(&run.ID, &run.JobType, &run.Status, &startedStr, &completedStr, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobType, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
	if completedStr.Valid {
		t, _ := time.Parse(time.RFC3339, completedStr.String)
		run.CompletedAt = &t
	}
	run.ErrorMessage = errMsg.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
