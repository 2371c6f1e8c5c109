package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"multitalk/internal/config"
	"multitalk/internal/jobs"
	"multitalk/internal/ledger"
	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/services"
	"multitalk/internal/services/objectstore"
	"multitalk/internal/services/synth"
	"multitalk/internal/store"
)

// ObjectStore persists request inputs.
type ObjectStore interface {
	Put(ctx context.Context, accountID string, obj objectstore.Object) (string, error)
	Delete(ref string) error
}

// Outcome is a worker's report for one job.
type Outcome = synth.Outcome

// Settings holds the admission economics and submit bounds.
type Settings struct {
	Limits          Limits
	SeedBalance     int64
	JobCost         int64
	PersistTimeout  time.Duration
	DispatchTimeout time.Duration
	Retry           services.RetrySettings
}

// SettingsFromConfig derives Settings from the daemon configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Limits: Limits{
			Resolutions:    cfg.Generation.Resolutions,
			FrameCounts:    cfg.Generation.FrameCounts,
			MaxUploadBytes: cfg.Generation.MaxUploadBytes,
		},
		SeedBalance:     cfg.Credits.FreeTrialCredits,
		JobCost:         cfg.Credits.JobCost,
		PersistTimeout:  cfg.PersistTimeout(),
		DispatchTimeout: cfg.DispatchTimeout(),
		Retry: services.RetrySettings{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay(),
			MaxDelay:   cfg.RetryMaxDelay(),
		},
	}
}

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Ledger     *ledger.Ledger
	Jobs       *jobs.Store
	Objects    ObjectStore
	Dispatcher synth.Dispatcher
	Notifier   notifications.Service
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Manager runs the submit pipeline and finalizes jobs from worker results.
type Manager struct {
	settings   Settings
	ledger     *ledger.Ledger
	jobs       *jobs.Store
	objects    ObjectStore
	dispatcher synth.Dispatcher
	notifier   notifications.Service
	metrics    *metrics.Metrics
	logger     *slog.Logger
	balance    retrypolicy.RetryPolicy[int64]
	account    retrypolicy.RetryPolicy[*store.Account]
}

// New constructs a Manager.
func New(settings Settings, deps Dependencies) *Manager {
	if settings.JobCost <= 0 {
		settings.JobCost = 1
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	return &Manager{
		settings:   settings,
		ledger:     deps.Ledger,
		jobs:       deps.Jobs,
		objects:    deps.Objects,
		dispatcher: deps.Dispatcher,
		notifier:   notifier,
		metrics:    deps.Metrics,
		logger:     logging.NewComponentLogger(deps.Logger, "generation"),
		balance:    services.NewTransientRetryPolicy[int64](settings.Retry),
		account:    services.NewTransientRetryPolicy[*store.Account](settings.Retry),
	}
}

// Submit admits payload for accountID and returns the dispatched job.
func (m *Manager) Submit(ctx context.Context, accountID string, payload Payload) (*store.Job, error) {
	started := time.Now()
	ctx = services.WithAccountID(ctx, accountID)
	logger := logging.WithContext(ctx, m.logger)

	if strings.TrimSpace(accountID) == "" {
		return nil, services.Invalid("account_id", "required")
	}
	if err := payload.Validate(m.settings.Limits); err != nil {
		return nil, err
	}
	payload.Resolution = strings.ToLower(strings.TrimSpace(payload.Resolution))

	if _, err := services.RetryTransient(ctx, m.account, func() (*store.Account, error) {
		return m.ledger.EnsureAccount(ctx, accountID, m.settings.SeedBalance, store.PlanFree)
	}); err != nil {
		return nil, err
	}

	remaining, err := services.RetryTransient(ctx, m.balance, func() (int64, error) {
		return m.ledger.TryDebit(ctx, accountID, m.settings.JobCost)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("job admitted", logging.Int64("balance", remaining))

	audioRef, imageRef, err := m.persist(ctx, accountID, payload)
	if err != nil {
		m.refund(ctx, accountID, "persist")
		m.metrics.Job("persist_failed")
		if errors.Is(err, services.ErrValidation) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "generation", "persist", "store job inputs", err)
	}

	job, err := m.jobs.Create(ctx, accountID, store.JobRequest{
		Prompt:     strings.TrimSpace(payload.Prompt),
		Resolution: payload.Resolution,
		FrameCount: payload.FrameCount,
		AudioRef:   audioRef,
		ImageRef:   imageRef,
	})
	if err != nil {
		m.refund(ctx, accountID, "create")
		m.discard(audioRef, imageRef)
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)

	if err := m.dispatch(ctx, job); err != nil {
		m.refund(ctx, accountID, "dispatch")
		detail := fmt.Sprintf("dispatch failed: %v", err)
		if _, markErr := m.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, detail); markErr != nil {
			logging.WarnWithContext(logging.WithContext(ctx, m.logger), "could not fail undispatched job", "job_mark_failed_error",
				logging.Error(markErr),
				logging.String(logging.FieldErrorHint, "the stale job sweep will fail it"),
				logging.String(logging.FieldImpact, "job remains in processing"),
			)
		}
		m.metrics.Job("dispatch_failed")
		return nil, services.Wrap(services.ErrTransient, "generation", "dispatch", "worker did not accept job", err)
	}

	m.metrics.Job("submitted")
	m.metrics.ObserveSubmit(time.Since(started))
	logging.WithContext(ctx, m.logger).Info("job dispatched",
		logging.String("resolution", job.Request.Resolution),
		logging.Int("frame_count", job.Request.FrameCount),
		logging.Int64("balance", remaining),
		logging.String(logging.FieldEventType, "job_dispatched"),
	)
	return job, nil
}

func (m *Manager) persist(ctx context.Context, accountID string, payload Payload) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.settings.PersistTimeout)
	defer cancel()

	audioRef, err := m.put(ctx, accountID, "audio", payload.Audio)
	if err != nil {
		return "", "", err
	}
	imageRef, err := m.put(ctx, accountID, "image", payload.Image)
	if err != nil {
		m.discard(audioRef)
		return "", "", err
	}
	return audioRef, imageRef, nil
}

func (m *Manager) put(ctx context.Context, accountID, kind string, upload *Upload) (string, error) {
	body := upload.Body
	if m.settings.Limits.MaxUploadBytes > 0 {
		body = io.LimitReader(body, m.settings.Limits.MaxUploadBytes+1)
	}
	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ref, err := m.objects.Put(ctx, accountID, objectstore.Object{
			Kind:        kind,
			Filename:    upload.Filename,
			ContentType: upload.ContentType,
			Size:        upload.Size,
			Body:        body,
		})
		done <- result{ref, err}
	}()
	select {
	case res := <-done:
		return res.ref, res.err
	case <-ctx.Done():
		// A late Put may still land; remove it once it does.
		go func() {
			if res := <-done; res.err == nil {
				m.discard(res.ref)
			}
		}()
		return "", fmt.Errorf("%s upload: %w", kind, ctx.Err())
	}
}

func (m *Manager) dispatch(ctx context.Context, job *store.Job) error {
	ctx, cancel := context.WithTimeout(ctx, m.settings.DispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.dispatcher.Dispatch(ctx, synth.Job{
			ID:         job.ID,
			AccountID:  job.AccountID,
			Prompt:     job.Request.Prompt,
			Resolution: job.Request.Resolution,
			FrameCount: job.Request.FrameCount,
			AudioRef:   job.Request.AudioRef,
			ImageRef:   job.Request.ImageRef,
		})
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refund returns the job cost after a failed submit. It survives caller
// cancellation so an abandoned request still gets its credit back.
func (m *Manager) refund(ctx context.Context, accountID, stage string) {
	ctx = context.WithoutCancel(ctx)
	_, err := services.RetryTransient(ctx, m.balance, func() (int64, error) {
		return m.ledger.Refund(ctx, accountID, m.settings.JobCost)
	})
	if err == nil {
		return
	}
	logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "refund failed; credit lost", "refund_failed",
		logging.String("stage", stage),
		logging.Int64("amount", m.settings.JobCost),
		logging.String(logging.FieldErrorHint, "grant the credit back with multitalk account grant"),
		logging.Alert("refund"),
		logging.Error(err),
	)
	if notifyErr := m.notifier.NotifyFatal(ctx, err, "refund for "+accountID); notifyErr != nil {
		m.logger.Debug("refund alert not delivered", logging.Error(notifyErr))
	}
}

func (m *Manager) discard(refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := m.objects.Delete(ref); err != nil {
			m.logger.Debug("orphaned upload not removed", logging.String("ref", ref), logging.Error(err))
		}
	}
}

// OnWorkerResult finalizes jobID. Results for jobs that are already terminal
// are acknowledged without error.
func (m *Manager) OnWorkerResult(ctx context.Context, jobID string, outcome Outcome) error {
	ctx = services.WithJobID(ctx, jobID)
	var (
		job *store.Job
		err error
	)
	if outcome.Success {
		job, err = m.jobs.MarkCompleted(ctx, jobID, outcome.ArtifactRef)
	} else {
		job, err = m.jobs.MarkFailed(ctx, jobID, outcome.ErrorDetail)
	}
	if errors.Is(err, services.ErrConflict) {
		if outcome.Success && job != nil && job.Status == store.JobStatusFailed {
			m.lateSuccess(ctx, job, outcome.ArtifactRef)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == store.JobStatusFailed {
		if notifyErr := m.notifier.NotifyJobFailed(ctx, job.ID, job.AccountID, job.ErrorDetail); notifyErr != nil {
			m.logger.Debug("job failure notification not delivered", logging.Error(notifyErr))
		}
	}
	return nil
}

// lateSuccess reports a render that finished after its job was already
// failed, typically by a dispatch timeout. The credit was refunded and the
// job stays failed; the artifact ref is logged so it can be recovered.
func (m *Manager) lateSuccess(ctx context.Context, job *store.Job, artifactRef string) {
	m.metrics.Job("late_result_discarded")
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "worker result arrived after job failed", "job_late_result",
		logging.String(logging.FieldAccountID, job.AccountID),
		logging.String("artifact_ref", artifactRef),
		logging.String(logging.FieldErrorHint, "the artifact exists but is not attached to any job"),
		logging.String(logging.FieldImpact, "rendered video discarded"),
	)
}

// GetJob returns a job or an ErrNotFound error.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	return m.jobs.Get(ctx, jobID)
}

// ListJobs returns an account's jobs newest first.
func (m *Manager) ListJobs(ctx context.Context, accountID string) ([]*store.Job, error) {
	return m.jobs.List(ctx, accountID)
}
