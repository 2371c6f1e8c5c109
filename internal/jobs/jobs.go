// Package jobs owns generation job records and their state machine.
//
// Jobs move queued → processing → completed | failed. Terminal jobs are
// immutable: a second completion or failure is left unapplied and reported as
// services.ErrConflict so duplicate worker callbacks are detectable without
// corrupting state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

// Store applies job transitions on top of the relational store.
type Store struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a job Store.
func New(st *store.Store, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		store:   st,
		logger:  logging.NewComponentLogger(logger, "jobs"),
		metrics: m,
	}
}

// Create persists a job for an already admitted request. Admission is
// synchronous, so the job starts in processing.
func (s *Store) Create(ctx context.Context, accountID string, req store.JobRequest) (*store.Job, error) {
	job, err := s.store.CreateJob(ctx, accountID, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldAccountID, accountID),
		logging.String("resolution", req.Resolution),
		logging.Int("frame_count", req.FrameCount),
		logging.String(logging.FieldEventType, "job_created"),
	)
	return job, nil
}

// MarkCompleted finishes a processing job with its artifact.
func (s *Store) MarkCompleted(ctx context.Context, jobID, artifactRef string) (*store.Job, error) {
	if strings.TrimSpace(artifactRef) == "" {
		return nil, services.Invalid("artifact_ref", "required when completing a job")
	}
	return s.finish(ctx, jobID, store.JobStatusCompleted, artifactRef, "")
}

// MarkFailed finishes a processing job with an error detail.
func (s *Store) MarkFailed(ctx context.Context, jobID, errorDetail string) (*store.Job, error) {
	if strings.TrimSpace(errorDetail) == "" {
		errorDetail = "unspecified failure"
	}
	return s.finish(ctx, jobID, store.JobStatusFailed, "", errorDetail)
}

func (s *Store) finish(ctx context.Context, jobID string, status store.JobStatus, artifactRef, errorDetail string) (*store.Job, error) {
	job, err := s.store.FinishJob(ctx, jobID, status, artifactRef, errorDetail)
	if errors.Is(err, services.ErrConflict) {
		s.metrics.JobConflict()
		current := ""
		if job != nil {
			current = string(job.Status)
		}
		logging.WarnWithContext(s.logger, "job already terminal; transition ignored", "job_transition_conflict",
			logging.String(logging.FieldJobID, jobID),
			logging.String("requested_status", string(status)),
			logging.String("current_status", current),
			logging.String(logging.FieldErrorHint, "duplicate or late worker callback"),
			logging.String(logging.FieldImpact, "none; the first result stands"),
		)
		return job, err
	}
	if err != nil {
		return nil, err
	}
	s.metrics.Job(string(status))
	attrs := []logging.Attr{
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldAccountID, job.AccountID),
		logging.String("status", string(job.Status)),
		logging.String(logging.FieldEventType, "job_"+string(status)),
	}
	if job.CompletedAt != nil {
		attrs = append(attrs, logging.Duration("elapsed", job.CompletedAt.Sub(job.CreatedAt)))
	}
	if errorDetail != "" {
		attrs = append(attrs, logging.String("error_detail", errorDetail))
	}
	s.logger.Info("job finished", logging.Args(attrs...)...)
	return job, nil
}

// Get returns the job or an ErrNotFound error.
func (s *Store) Get(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %s", jobID), nil)
	}
	return job, nil
}

// List returns an account's jobs newest first.
func (s *Store) List(ctx context.Context, accountID string, statuses ...store.JobStatus) ([]*store.Job, error) {
	return s.store.ListJobs(ctx, accountID, statuses...)
}

// SweepStale fails jobs that have been in flight longer than maxAge. Jobs
// finished concurrently by their worker are skipped.
func (s *Store) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, services.Invalid("max_age", "must be positive")
	}
	stale, err := s.store.StaleJobs(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, job := range stale {
		detail := fmt.Sprintf("no worker result within %s", maxAge)
		if _, err := s.MarkFailed(ctx, job.ID, detail); err != nil {
			if errors.Is(err, services.ErrConflict) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}
