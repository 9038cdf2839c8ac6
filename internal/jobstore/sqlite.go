package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/job"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLite stores jobs in a single table, one row per job. Structured fields
// are JSON text columns; created_at is Unix nanoseconds for ordering.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// busy_timeout is per connection, so it goes in the DSN for every pooled connection.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("Job store opened", "component", "jobstore", "backend", BackendSQLite, "path", path)
	return &SQLite{db: db}, nil
}

// row holds the serialized columns of a job.
type row struct {
	inputs, options, outputs, metadata string
	callback                           sql.NullString
}

func encodeRow(j *job.Job) (row, error) {
	var r row
	fields := []struct {
		dst *string
		v   any
	}{
		{&r.inputs, j.Inputs},
		{&r.options, j.Options},
		{&r.outputs, j.Outputs},
		{&r.metadata, j.Metadata},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return row{}, err
		}
		*f.dst = string(b)
	}
	if j.Callback != nil {
		b, err := json.Marshal(j.Callback)
		if err != nil {
			return row{}, err
		}
		r.callback = sql.NullString{String: string(b), Valid: true}
	}
	return r, nil
}

func decodeRow(id, pipeline, status string, r row) (*job.Job, error) {
	j := &job.Job{
		ID:       id,
		Pipeline: job.PipelineType(pipeline),
		Status:   job.Status(status),
	}
	fields := []struct {
		src string
		dst any
	}{
		{r.inputs, &j.Inputs},
		{r.options, &j.Options},
		{r.outputs, &j.Outputs},
		{r.metadata, &j.Metadata},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
	}
	if r.callback.Valid {
		j.Callback = &job.Callback{}
		if err := json.Unmarshal([]byte(r.callback.String), j.Callback); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
	}
	return j, nil
}

// Create implements job.Store.
func (s *SQLite) Create(ctx context.Context, j *job.Job) error {
	r, err := encodeRow(j)
	if err != nil {
		return apperrors.Internal("sqlite.create", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, pipeline, status, inputs, options, outputs, metadata, callback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`,
		j.ID, string(j.Pipeline), string(j.Status), r.inputs, r.options, r.outputs, r.metadata, r.callback,
		j.Metadata.CreatedAt.UnixNano(),
	)
	if err != nil {
		return apperrors.Internal("sqlite.create", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
	}
	return nil
}

// Get implements job.Store.
func (s *SQLite) Get(ctx context.Context, id string) (*job.Job, error) {
	var (
		pipeline, status string
		r                row
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT pipeline, status, inputs, options, outputs, metadata, callback
		FROM jobs WHERE job_id = ?`, id,
	).Scan(&pipeline, &status, &r.inputs, &r.options, &r.outputs, &r.metadata, &r.callback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.Internal("sqlite.get", err)
	}
	j, err := decodeRow(id, pipeline, status, r)
	if err != nil {
		return nil, apperrors.Internal("sqlite.get", err)
	}
	return j, nil
}

// Update implements job.Store. The creation time is never rewritten.
func (s *SQLite) Update(ctx context.Context, j *job.Job) error {
	r, err := encodeRow(j)
	if err != nil {
		return apperrors.Internal("sqlite.update", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET pipeline = ?, status = ?, inputs = ?, options = ?, outputs = ?, metadata = ?, callback = ?
		WHERE job_id = ?`,
		string(j.Pipeline), string(j.Status), r.inputs, r.options, r.outputs, r.metadata, r.callback, j.ID,
	)
	if err != nil {
		return apperrors.Internal("sqlite.update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("sqlite.update", err)
	}
	if n == 0 {
		return apperrors.NotFound("job", j.ID)
	}
	return nil
}

// List implements job.Store.
func (s *SQLite) List(ctx context.Context, limit, offset int) ([]*job.Job, error) {
	if limit <= 0 {
		return []*job.Job{}, nil
	}
	offset = max(offset, 0)
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, pipeline, status, inputs, options, outputs, metadata, callback
		FROM jobs ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, apperrors.Internal("sqlite.list", err)
	}
	defer rows.Close()

	jobs := []*job.Job{}
	for rows.Next() {
		var (
			id, pipeline, status string
			r                    row
		)
		if err := rows.Scan(&id, &pipeline, &status, &r.inputs, &r.options, &r.outputs, &r.metadata, &r.callback); err != nil {
			return nil, apperrors.Internal("sqlite.list", err)
		}
		j, err := decodeRow(id, pipeline, status, r)
		if err != nil {
			return nil, apperrors.Internal("sqlite.list", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("sqlite.list", err)
	}
	return jobs, nil
}

// Ping implements job.Store.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements job.Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
