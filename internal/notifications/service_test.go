package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"multitalk/internal/config"
	"multitalk/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyFatal(context.Background(), errors.New("boom"), "ledger"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyFatal(ctx, errors.New("balance -1 for acct-1"), "ledger debit"); err != nil {
		t.Fatalf("NotifyFatal failed: %v", err)
	}
	if err := svc.NotifyReplenishFailures(ctx, "starter", 10, 2); err != nil {
		t.Fatalf("NotifyReplenishFailures failed: %v", err)
	}
	if err := svc.NotifyReplenishFailures(ctx, "starter", 10, 0); err != nil {
		t.Fatalf("NotifyReplenishFailures failed: %v", err)
	}
	if err := svc.NotifyJobFailed(ctx, "job_1", "acct-1", "worker crashed"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications (zero-failure replenish suppressed), got %d", len(got))
	}
	if got[0].title != "MultiTalk - Fatal" || got[0].priority != "urgent" {
		t.Fatalf("unexpected fatal payload: %+v", got[0])
	}
	if !strings.Contains(got[0].body, "ledger debit") || !strings.Contains(got[0].body, "balance -1") {
		t.Fatalf("unexpected fatal body: %q", got[0].body)
	}
	if got[1].body != "Replenish for starter: 2 of 10 accounts failed" {
		t.Fatalf("unexpected replenish body: %q", got[1].body)
	}
	if got[1].tags != "multitalk,replenish,starter" {
		t.Fatalf("unexpected replenish tags: %q", got[1].tags)
	}
	if got[2].body != "Job job_1 for acct-1 failed\nworker crashed" {
		t.Fatalf("unexpected job body: %q", got[2].body)
	}
}

func TestJobFailuresCanBeDisabled(t *testing.T) {
	srv, requests := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.JobFailures = false
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyJobFailed(context.Background(), "job_1", "acct-1", ""); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestNtfyServiceRetriesServerErrors(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Retry.MaxRetries = 2
	cfg.Retry.BaseDelayMS = 1
	cfg.Retry.MaxDelayMS = 5
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
