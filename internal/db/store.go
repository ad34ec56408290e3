package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Store handles database operations for both job family tables.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore creates a new database store. dialect selects the placeholder style.
func NewStore(db *sql.DB, dialect string) *Store {
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &Store{db: db, dialect: dialect}
}

// rebind turns ? placeholders into $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tableFor(kind interfaces.Kind) (string, error) {
	switch kind {
	case interfaces.KindTranscription:
		return "transcription_jobs", nil
	case interfaces.KindPresentation:
		return "presentation_jobs", nil
	default:
		return "", fmt.Errorf("unknown job type: %q", kind)
	}
}

const (
	transcriptionColumns = `id, user_id, subject, source, file_name, language, auto_index, status,
		transcript_text, detected_language, duration_seconds, indexed, index_collection, index_error,
		error_message, created_at, started_at, completed_at, lease_expires_at`
	presentationColumns = `id, user_id, subject, topic, n_slides, language, template, tone, status,
		presentation_id, edit_path, file_path,
		error_message, created_at, started_at, completed_at, lease_expires_at`
)

func columnsFor(kind interfaces.Kind) string {
	if kind == interfaces.KindTranscription {
		return transcriptionColumns
	}
	return presentationColumns
}

// CreateJob inserts a new pending job into its family table
func (s *Store) CreateJob(ctx context.Context, job *interfaces.Job) error {
	var (
		query string
		args  []any
	)

	switch p := job.Payload.(type) {
	case *interfaces.TranscriptionPayload:
		query = `
			INSERT INTO transcription_jobs (id, user_id, subject, source, file_name, language, auto_index, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		args = []any{job.ID, p.UserID, p.Subject, p.Source, p.FileName, p.Language, p.AutoIndex,
			job.Status, job.CreatedAt.UTC()}
	case *interfaces.PresentationPayload:
		query = `
			INSERT INTO presentation_jobs (id, user_id, subject, topic, n_slides, language, template, tone, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		args = []any{job.ID, p.UserID, p.Subject, p.Topic, p.NumSlides, p.Language, p.Template, p.Tone,
			job.Status, job.CreatedAt.UTC()}
	default:
		return fmt.Errorf("unsupported payload %T", job.Payload)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, kind interfaces.Kind, id string) (*interfaces.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, columnsFor(kind), table)
	job, err := scanJob(kind, s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, filtered by status and subject.
func (s *Store) ListJobs(ctx context.Context, kind interfaces.Kind, filter interfaces.ListFilter) ([]*interfaces.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, filter.Subject)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, columnsFor(kind), table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit))

	return s.queryJobs(ctx, kind, query, args...)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return interfaces.DefaultListLimit
	}
	if limit > interfaces.MaxListLimit {
		return interfaces.MaxListLimit
	}
	return limit
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(ctx context.Context, kind interfaces.Kind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// ClaimJob marks a pending job as processing. The status guard turns duplicate or
// replayed queue messages into no-ops.
func (s *Store) ClaimJob(ctx context.Context, kind interfaces.Kind, id string, startedAt, leaseExpiresAt time.Time) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = ?, started_at = ?, lease_expires_at = ?
		WHERE id = ? AND status = ?
	`, table)
	n, err := s.exec(ctx, query,
		interfaces.StatusProcessing, startedAt.UTC(), leaseExpiresAt.UTC(), id, interfaces.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return n == 1, nil
}

// CompleteJob writes the result of a processing job.
func (s *Store) CompleteJob(ctx context.Context, kind interfaces.Kind, id string, result interfaces.Result, completedAt time.Time) error {
	var (
		query string
		args  []any
	)

	switch r := result.(type) {
	case *interfaces.TranscriptionResult:
		if kind != interfaces.KindTranscription {
			return fmt.Errorf("transcription result for %s job", kind)
		}
		query = `
			UPDATE transcription_jobs
			SET status = ?, transcript_text = ?, detected_language = ?, duration_seconds = ?, completed_at = ?, lease_expires_at = NULL
			WHERE id = ? AND status = ?
		`
		args = []any{interfaces.StatusCompleted, r.Text, r.Language, r.DurationSeconds, completedAt.UTC(),
			id, interfaces.StatusProcessing}
	case *interfaces.PresentationResult:
		if kind != interfaces.KindPresentation {
			return fmt.Errorf("presentation result for %s job", kind)
		}
		query = `
			UPDATE presentation_jobs
			SET status = ?, presentation_id = ?, edit_path = ?, file_path = ?, completed_at = ?, lease_expires_at = NULL
			WHERE id = ? AND status = ?
		`
		args = []any{interfaces.StatusCompleted, r.PresentationID, r.EditPath, r.FilePath, completedAt.UTC(),
			id, interfaces.StatusProcessing}
	default:
		return fmt.Errorf("unsupported result %T", result)
	}

	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job as completed: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotProcessing
	}
	return nil
}

// FailJob records the error of a processing job.
func (s *Store) FailJob(ctx context.Context, kind interfaces.Kind, id string, message string, completedAt time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = ?, error_message = ?, completed_at = ?, lease_expires_at = NULL
		WHERE id = ? AND status = ?
	`, table)
	n, err := s.exec(ctx, query, interfaces.StatusFailed, message, completedAt.UTC(), id, interfaces.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update failed job: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotProcessing
	}
	return nil
}

// RecordIndex stores the secondary indexing outcome of a completed transcription.
func (s *Store) RecordIndex(ctx context.Context, id string, info interfaces.IndexInfo) error {
	query := `
		UPDATE transcription_jobs SET indexed = ?, index_collection = ?, index_error = ?
		WHERE id = ? AND status = ?
	`
	n, err := s.exec(ctx, query, info.Indexed, nullString(info.Collection), nullString(info.Error),
		id, interfaces.StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to record index outcome: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// ExpireLease fails a processing job whose lease has run out.
func (s *Store) ExpireLease(ctx context.Context, kind interfaces.Kind, id string, message string, now time.Time) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = ?, error_message = ?, completed_at = ?, lease_expires_at = NULL
		WHERE id = ? AND status = ? AND lease_expires_at < ?
	`, table)
	n, err := s.exec(ctx, query, interfaces.StatusFailed, message, now.UTC(), id, interfaces.StatusProcessing, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to expire lease: %w", err)
	}
	return n == 1, nil
}

// ListExpiredLeases returns processing jobs whose lease ended before now, oldest first.
func (s *Store) ListExpiredLeases(ctx context.Context, kind interfaces.Kind, now time.Time, limit int) ([]*interfaces.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ? AND lease_expires_at < ?
		ORDER BY lease_expires_at ASC LIMIT ?
	`, columnsFor(kind), table)
	return s.queryJobs(ctx, kind, query, interfaces.StatusProcessing, now.UTC(), clampLimit(limit))
}

// MarkNotified records when a pending job was last announced on the queue. A job that
// already left pending is left untouched.
func (s *Store) MarkNotified(ctx context.Context, kind interfaces.Kind, id string, at time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET notified_at = ? WHERE id = ? AND status = ?`, table)
	if _, err := s.exec(ctx, query, at.UTC(), id, interfaces.StatusPending); err != nil {
		return fmt.Errorf("failed to mark job notified: %w", err)
	}
	return nil
}

// ListStalePending returns pending jobs whose last announcement (or creation, if never
// announced) is older than before, oldest first.
func (s *Store) ListStalePending(ctx context.Context, kind interfaces.Kind, before time.Time, limit int) ([]*interfaces.Job, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ? AND COALESCE(notified_at, created_at) < ?
		ORDER BY created_at ASC LIMIT ?
	`, columnsFor(kind), table)
	return s.queryJobs(ctx, kind, query, interfaces.StatusPending, before.UTC(), clampLimit(limit))
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) queryJobs(ctx context.Context, kind interfaces.Kind, query string, args ...any) ([]*interfaces.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*interfaces.Job, 0)
	for rows.Next() {
		job, err := scanJob(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(kind interfaces.Kind, row scanner) (*interfaces.Job, error) {
	if kind == interfaces.KindTranscription {
		return scanTranscription(row)
	}
	return scanPresentation(row)
}

// timestamps shared by both tables
type lifecycle struct {
	errorMessage sql.NullString
	createdAt    time.Time
	startedAt    sql.NullTime
	completedAt  sql.NullTime
	leaseExpires sql.NullTime
}

func (l *lifecycle) apply(job *interfaces.Job) {
	job.CreatedAt = l.createdAt.UTC()
	job.StartedAt = timePtr(l.startedAt)
	job.CompletedAt = timePtr(l.completedAt)
	job.LeaseExpiresAt = timePtr(l.leaseExpires)
	if job.Status == interfaces.StatusFailed && l.errorMessage.Valid {
		msg := l.errorMessage.String
		job.Error = &msg
	}
}

func scanTranscription(row scanner) (*interfaces.Job, error) {
	var (
		job        = &interfaces.Job{Kind: interfaces.KindTranscription}
		payload    interfaces.TranscriptionPayload
		text       sql.NullString
		detected   sql.NullString
		duration   sql.NullFloat64
		indexed    bool
		collection sql.NullString
		indexErr   sql.NullString
		lc         lifecycle
	)

	err := row.Scan(
		&job.ID, &payload.UserID, &payload.Subject, &payload.Source, &payload.FileName, &payload.Language,
		&payload.AutoIndex, &job.Status,
		&text, &detected, &duration, &indexed, &collection, &indexErr,
		&lc.errorMessage, &lc.createdAt, &lc.startedAt, &lc.completedAt, &lc.leaseExpires)
	if err != nil {
		return nil, err
	}

	job.Payload = &payload
	lc.apply(job)
	if job.Status == interfaces.StatusCompleted {
		job.Result = &interfaces.TranscriptionResult{
			Text:            text.String,
			Language:        detected.String,
			DurationSeconds: duration.Float64,
		}
		if indexed || collection.Valid || indexErr.Valid {
			job.Index = &interfaces.IndexInfo{
				Indexed:    indexed,
				Collection: collection.String,
				Error:      indexErr.String,
			}
		}
	}
	return job, nil
}

func scanPresentation(row scanner) (*interfaces.Job, error) {
	var (
		job            = &interfaces.Job{Kind: interfaces.KindPresentation}
		payload        interfaces.PresentationPayload
		presentationID sql.NullString
		editPath       sql.NullString
		filePath       sql.NullString
		lc             lifecycle
	)

	err := row.Scan(
		&job.ID, &payload.UserID, &payload.Subject, &payload.Topic, &payload.NumSlides, &payload.Language,
		&payload.Template, &payload.Tone, &job.Status,
		&presentationID, &editPath, &filePath,
		&lc.errorMessage, &lc.createdAt, &lc.startedAt, &lc.completedAt, &lc.leaseExpires)
	if err != nil {
		return nil, err
	}

	job.Payload = &payload
	lc.apply(job)
	if job.Status == interfaces.StatusCompleted {
		job.Result = &interfaces.PresentationResult{
			PresentationID: presentationID.String,
			EditPath:       editPath.String,
			FilePath:       filePath.String,
		}
	}
	return job, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
