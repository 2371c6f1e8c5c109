package synth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"multitalk/internal/logging"
)

// Simulated stands in for a GPU worker: every accepted job completes, or
// fails at FailureRate, after Delay.
type Simulated struct {
	delay       time.Duration
	failureRate float64
	logger      *slog.Logger

	mu       sync.Mutex
	base     context.Context
	onResult ResultFunc
	wg       sync.WaitGroup
}

// NewSimulated builds a simulated worker.
func NewSimulated(delay time.Duration, failureRate float64, logger *slog.Logger) *Simulated {
	return &Simulated{
		delay:       delay,
		failureRate: failureRate,
		logger:      logging.NewComponentLogger(logger, "synth"),
		base:        context.Background(),
	}
}

// Start ties in-flight renders to ctx and registers the result callback.
// Renders still pending when ctx ends are abandoned.
func (s *Simulated) Start(ctx context.Context, onResult ResultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	s.onResult = onResult
}

// Dispatch accepts job immediately and renders it in the background.
func (s *Simulated) Dispatch(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	base, onResult := s.base, s.onResult
	s.mu.Unlock()
	if onResult == nil {
		return fmt.Errorf("simulated worker not started")
	}
	if err := base.Err(); err != nil {
		return fmt.Errorf("simulated worker stopped: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-base.Done():
			s.logger.Debug("render abandoned", logging.String(logging.FieldJobID, job.ID))
			return
		case <-timer.C:
		}

		outcome := Outcome{Success: true, ArtifactRef: fmt.Sprintf("https://example.com/videos/%s.mp4", job.ID)}
		if s.failureRate > 0 && rand.Float64() < s.failureRate {
			outcome = Outcome{ErrorDetail: "simulated render failure"}
		}
		if err := onResult(base, job.ID, outcome); err != nil {
			s.logger.Warn("render result not recorded",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "worker_callback_failed"),
				logging.String(logging.FieldErrorHint, "the stale job sweep will fail the job"),
				logging.String(logging.FieldImpact, "job stays in processing until swept"),
			)
		}
	}()
	return nil
}

// Wait blocks until every accepted render has reported or been abandoned.
func (s *Simulated) Wait() {
	s.wg.Wait()
}
