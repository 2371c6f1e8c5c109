package synth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"multitalk/internal/logging"
	"multitalk/internal/services"
	"multitalk/internal/services/synth"
)

var sampleJob = synth.Job{ID: "job_1", AccountID: "acct-1", Prompt: "sing", Resolution: "480p", FrameCount: 81}

func TestSimulatedReportsOutcome(t *testing.T) {
	cases := []struct {
		name        string
		failureRate float64
		wantSuccess bool
	}{
		{"always succeeds", 0, true},
		{"always fails", 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := synth.NewSimulated(time.Millisecond, tc.failureRate, logging.NewNop())
			results := make(chan synth.Outcome, 1)
			sim.Start(context.Background(), func(_ context.Context, jobID string, outcome synth.Outcome) error {
				if jobID != sampleJob.ID {
					t.Errorf("unexpected job id %q", jobID)
				}
				results <- outcome
				return nil
			})
			if err := sim.Dispatch(context.Background(), sampleJob); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			sim.Wait()
			outcome := <-results
			if outcome.Success != tc.wantSuccess {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			if tc.wantSuccess && outcome.ArtifactRef != "https://example.com/videos/job_1.mp4" {
				t.Fatalf("unexpected artifact %q", outcome.ArtifactRef)
			}
		})
	}
}

func TestSimulatedStopsWithDaemonContext(t *testing.T) {
	sim := synth.NewSimulated(time.Hour, 0, logging.NewNop())
	if err := sim.Dispatch(context.Background(), sampleJob); err == nil {
		t.Fatal("expected dispatch before Start to fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var called atomic.Bool
	sim.Start(ctx, func(context.Context, string, synth.Outcome) error {
		called.Store(true)
		return nil
	})
	if err := sim.Dispatch(context.Background(), sampleJob); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	cancel()
	sim.Wait()
	if called.Load() {
		t.Fatal("expected pending render to be abandoned")
	}
	if err := sim.Dispatch(context.Background(), sampleJob); err == nil {
		t.Fatal("expected dispatch after shutdown to fail")
	}
}

func TestHTTPDispatchRetriesServerErrors(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
		received map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	dispatcher, err := synth.NewHTTP(server.URL, "http://127.0.0.1:7590/", "", services.RetrySettings{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, time.Second)
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), sampleJob); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if received["callback_url"] != "http://127.0.0.1:7590/api/jobs/job_1/result" {
		t.Fatalf("unexpected callback url %v", received["callback_url"])
	}
	if received["id"] != "job_1" {
		t.Fatalf("expected job fields inline, got %v", received)
	}
}

func TestHTTPDispatchDoesNotRetryRejections(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	dispatcher, err := synth.NewHTTP(server.URL, "http://localhost", "", services.RetrySettings{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, time.Second)
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	err = dispatcher.Dispatch(context.Background(), sampleJob)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal rejection, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts.Load())
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestNewHTTPRejectsBadEndpoint(t *testing.T) {
	if _, err := synth.NewHTTP("not a url", "", "", services.RetrySettings{}, 0); err == nil {
		t.Fatal("expected invalid endpoint error")
	}
}
