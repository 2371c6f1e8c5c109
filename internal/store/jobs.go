package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"multitalk/internal/services"
)

// CreateJob persists a new job in the processing state.
func (s *Store) CreateJob(ctx context.Context, accountID string, req JobRequest) (*Job, error) {
	id, err := newID(prefixJob)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, account_id, status, prompt, resolution, frame_count, audio_ref, image_ref, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, JobStatusProcessing, req.Prompt, req.Resolution, req.FrameCount,
		nullableString(req.AudioRef), nullableString(req.ImageRef), formatTime(now), formatTime(now),
	); err != nil {
		return nil, classify("create job", err)
	}
	return &Job{
		ID:        id,
		AccountID: accountID,
		Status:    JobStatusProcessing,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetJob fetches a job by id. A missing job yields nil, nil.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := s.queryOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, []any{id}, func(row *sql.Row) (err error) {
		job, err = scanJob(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get job", err)
	}
	return job, nil
}

// ListJobs returns an account's jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, accountID string, statuses ...JobStatus) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if accountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, accountID)
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	return s.listJobs(ctx, query, args...)
}

// StaleJobs returns non-terminal jobs created before cutoff.
func (s *Store) StaleJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) AND created_at < ? ORDER BY created_at`,
		JobStatusQueued, JobStatusProcessing, formatTime(cutoff),
	)
}

func (s *Store) listJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list jobs", err)
	}
	return jobs, nil
}

// FinishJob moves a non-terminal job to completed or failed. A job that is
// already terminal is left untouched and reported as ErrConflict; an unknown
// job is reported as ErrNotFound.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, artifactRef, errorDetail string) (*Job, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("finish job: %s is not a terminal status", status)
	}
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, artifact_ref = ?, error_detail = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		status, nullableString(artifactRef), nullableString(errorDetail), now, now,
		id, JobStatusQueued, JobStatusProcessing,
	)
	if err != nil {
		return nil, classify("finish job", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("finish job: rows affected: %w", err)
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "finish job", fmt.Sprintf("job %s", id), nil)
	}
	if rows == 0 {
		return job, services.Wrap(services.ErrConflict, "store", "finish job",
			fmt.Sprintf("job %s already %s", id, job.Status), nil)
	}
	return job, nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, classify("job counts", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int, 4)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, classify("scan job count", err)
		}
		counts[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify("job counts", err)
	}
	return counts, nil
}
