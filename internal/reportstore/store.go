// Package reportstore persists report runs and their generated rows.
//
// A run is one asynchronous report generation: it records which report was
// requested, the dimensions, fetch progress, and the terminal status. The
// produced rows are stored as JSONB so reports with different column sets
// share one table.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hispls/dreams-reports/internal/platform/db"
	"github.com/hispls/dreams-reports/internal/report"
)

// Run statuses. A run moves pending -> running -> completed|failed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("report run not found")

// Run is one report generation request and its lifecycle state.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	ReportID      string     `json:"reportId"`
	OrgUnits      []string   `json:"orgUnits"`
	Periods       []string   `json:"periods"`
	Status        string     `json:"status"`
	TotalRequests int        `json:"totalRequests"`
	Progress      int        `json:"progress"`
	RowCount      int        `json:"rowCount"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// FailedPage is one analytics page fetch that failed during a run. The run
// still completes; failed pages record the reduced coverage.
type FailedPage struct {
	Program string `json:"program"`
	Stage   string `json:"stage,omitempty"`
	Page    int    `json:"page"`
	Error   string `json:"error"`
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the Postgres-backed run repository.
type Store struct{ pool *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const runCols = `id, report_id, org_units, periods, status,
	total_requests, progress, row_count, error, created_at, completed_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.ReportID, &r.OrgUnits, &r.Periods, &r.Status,
		&r.TotalRequests, &r.Progress, &r.RowCount, &r.Error,
		&r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report run: %w", err)
	}
	return &r, nil
}

// CreateRun records a new pending run and returns it with its id assigned.
func (s *Store) CreateRun(ctx context.Context, reportID string, dims report.Dimensions) (*Run, error) {
	run := &Run{
		ID:       uuid.New(),
		ReportID: reportID,
		OrgUnits: dims.OrgUnits,
		Periods:  dims.Periods,
		Status:   StatusPending,
	}
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_runs (id, report_id, org_units, periods, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		run.ID, run.ReportID, run.OrgUnits, run.Periods, run.Status).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create report run: %w", err)
	}
	return run, nil
}

// MarkRunning transitions a pending run to running.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, id, `UPDATE report_runs SET status=$2 WHERE id=$1`, StatusRunning)
}

// SetTotalRequests records how many analytics page fetches the run will
// perform, known once pagination has been probed.
func (s *Store) SetTotalRequests(ctx context.Context, id uuid.UUID, total int) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE report_runs SET total_requests=$2 WHERE id=$1`, id, total)
	if err != nil {
		return fmt.Errorf("set total requests: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// IncrementProgress bumps the completed-fetch counter by one.
func (s *Store) IncrementProgress(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE report_runs SET progress = progress + 1 WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("increment progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CompleteRun marks the run completed and records the final row count.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, rowCount int) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE report_runs SET status=$2, row_count=$3, completed_at=NOW()
		WHERE id=$1`,
		id, StatusCompleted, rowCount)
	if err != nil {
		return fmt.Errorf("complete report run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FailRun marks the run failed with the given error message.
func (s *Store) FailRun(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE report_runs SET status=$2, error=$3, completed_at=NOW()
		WHERE id=$1`,
		id, StatusFailed, msg)
	if err != nil {
		return fmt.Errorf("fail report run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) updateStatus(ctx context.Context, id uuid.UUID, sql, status string) error {
	tag, err := s.conn(ctx).Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(s.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM report_runs WHERE id = $1`, id))
}

// ListRuns returns runs newest first, optionally filtered by report id.
func (s *Store) ListRuns(ctx context.Context, reportID string, limit, offset int) ([]*Run, int, error) {
	where := ``
	args := []interface{}{}
	if reportID != "" {
		where = ` WHERE report_id = $1`
		args = append(args, reportID)
	}
	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report runs: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := s.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM report_runs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			runCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list report runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list report runs: %w", err)
	}
	return runs, total, nil
}

// InsertRows stores the generated report rows for a run. Rows are batched so
// large reports do not round-trip per row.
func (s *Store) InsertRows(ctx context.Context, runID uuid.UUID, rows []report.ReportRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, row := range rows {
		batch.Queue(`
			INSERT INTO report_rows (run_id, position, data)
			VALUES ($1, $2, $3)`,
			runID, i, row)
	}
	res := s.conn(ctx).SendBatch(ctx, batch)
	defer res.Close()
	for range rows {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("insert report rows: %w", err)
		}
	}
	return nil
}

// RowsByRun returns a run's generated rows in their original order.
func (s *Store) RowsByRun(ctx context.Context, runID uuid.UUID, limit, offset int) ([]report.ReportRow, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report_rows WHERE run_id = $1`, runID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report rows: %w", err)
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT data FROM report_rows
		WHERE run_id = $1 ORDER BY position LIMIT $2 OFFSET $3`,
		runID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch report rows: %w", err)
	}
	defer rows.Close()
	var out []report.ReportRow
	for rows.Next() {
		var row report.ReportRow
		if err := rows.Scan(&row); err != nil {
			return nil, 0, fmt.Errorf("scan report row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("fetch report rows: %w", err)
	}
	return out, total, nil
}

// AllRowsByRun returns every row of a run, for export rendering.
func (s *Store) AllRowsByRun(ctx context.Context, runID uuid.UUID) ([]report.ReportRow, error) {
	out, _, err := s.RowsByRun(ctx, runID, maxExportRows, 0)
	return out, err
}

// maxExportRows bounds a single export; DHIS2 analytics for one district and
// period lands well under this.
const maxExportRows = 500000

// InsertFailedPages records the page fetches that failed during a run.
func (s *Store) InsertFailedPages(ctx context.Context, runID uuid.UUID, pages []report.FailedPage) error {
	for _, p := range pages {
		msg := ""
		if p.Err != nil {
			msg = p.Err.Error()
		}
		_, err := s.conn(ctx).Exec(ctx, `
			INSERT INTO report_failed_pages (run_id, program, stage, page, error)
			VALUES ($1, $2, $3, $4, $5)`,
			runID, p.Program, p.Stage, p.Page, msg)
		if err != nil {
			return fmt.Errorf("insert failed page: %w", err)
		}
	}
	return nil
}

// FailedPagesByRun returns the failed page records for a run.
func (s *Store) FailedPagesByRun(ctx context.Context, runID uuid.UUID) ([]FailedPage, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT program, stage, page, error FROM report_failed_pages
		WHERE run_id = $1 ORDER BY program, stage, page`, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch failed pages: %w", err)
	}
	defer rows.Close()
	var out []FailedPage
	for rows.Next() {
		var p FailedPage
		if err := rows.Scan(&p.Program, &p.Stage, &p.Page, &p.Error); err != nil {
			return nil, fmt.Errorf("scan failed page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch failed pages: %w", err)
	}
	return out, nil
}
