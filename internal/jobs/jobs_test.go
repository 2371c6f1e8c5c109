package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"multitalk/internal/jobs"
	"multitalk/internal/logging"
	"multitalk/internal/services"
	"multitalk/internal/store"
	"multitalk/internal/testsupport"
)

func newJobs(t *testing.T) (*jobs.Store, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.NewAccount(t, st, "acct-1", 5, store.PlanFree)
	return jobs.New(st, logging.NewNop(), nil), st
}

var sampleRequest = store.JobRequest{Prompt: "a cat singing", Resolution: "480p", FrameCount: 81}

func TestDuplicateCompletionIsConflict(t *testing.T) {
	js, _ := newJobs(t)
	ctx := context.Background()

	job, err := js.Create(ctx, "acct-1", sampleRequest)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := js.MarkCompleted(ctx, job.ID, "https://example.com/videos/a.mp4"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	current, err := js.MarkCompleted(ctx, job.ID, "https://example.com/videos/b.mp4")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if current.ArtifactRef != "https://example.com/videos/a.mp4" {
		t.Fatalf("second completion overwrote artifact: %q", current.ArtifactRef)
	}
	if _, err := js.MarkFailed(ctx, job.ID, "late"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on failing a completed job, got %v", err)
	}
}

func TestConcurrentCallbacksProduceOneTerminalState(t *testing.T) {
	js, _ := newJobs(t)
	ctx := context.Background()
	job, err := js.Create(ctx, "acct-1", sampleRequest)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const callbacks = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
	)
	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = js.MarkCompleted(ctx, job.ID, "https://example.com/videos/x.mp4")
			} else {
				_, err = js.MarkFailed(ctx, job.ID, "worker error")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, services.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if applied != 1 || conflicts != callbacks-1 {
		t.Fatalf("expected 1 applied and %d conflicts, got %d/%d", callbacks-1, applied, conflicts)
	}
	final, err := js.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !final.Status.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", final.Status)
	}
}

func TestTransitionValidation(t *testing.T) {
	js, _ := newJobs(t)
	ctx := context.Background()

	if _, err := js.MarkCompleted(ctx, "job_missing", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty artifact, got %v", err)
	}
	if _, err := js.MarkFailed(ctx, "job_missing", "boom"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := js.Get(ctx, "job_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from Get, got %v", err)
	}

	job, _ := js.Create(ctx, "acct-1", sampleRequest)
	failed, err := js.MarkFailed(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if failed.ErrorDetail == "" {
		t.Fatal("expected a default error detail")
	}
}

func TestSweepStaleFailsInFlightJobs(t *testing.T) {
	js, _ := newJobs(t)
	ctx := context.Background()

	inflight, _ := js.Create(ctx, "acct-1", sampleRequest)
	done, _ := js.Create(ctx, "acct-1", sampleRequest)
	if _, err := js.MarkCompleted(ctx, done.ID, "https://example.com/videos/done.mp4"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	swept, err := js.SweepStale(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept job, got %d", swept)
	}
	job, _ := js.Get(ctx, inflight.ID)
	if job.Status != store.JobStatusFailed {
		t.Fatalf("expected swept job failed, got %s", job.Status)
	}

	list, err := js.List(ctx, "acct-1", store.JobStatusCompleted)
	if err != nil || len(list) != 1 || list[0].ID != done.ID {
		t.Fatalf("unexpected completed list: %v %v", list, err)
	}
	if _, err := js.SweepStale(ctx, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero age, got %v", err)
	}
}
