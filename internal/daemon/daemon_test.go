package daemon

import (
	"context"
	"strings"
	"testing"

	"multitalk/internal/testsupport"
)

func TestDaemonStartStopEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _, _, _ := newDaemon(t, cfg)
	second, _, _, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.Address() == "" {
		t.Fatal("expected api listener address")
	}
	if err := first.Start(ctx); err == nil {
		t.Fatal("expected second Start on the same daemon to fail")
	}
	if !first.Health(ctx).Running {
		t.Fatal("expected running health")
	}

	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	first.Stop()
	if first.Health(ctx).Running {
		t.Fatal("expected stopped daemon")
	}

	if err := second.Start(ctx); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	second.Stop()
}

func TestNewRequiresComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := New(cfg, nil, Components{}); err == nil {
		t.Fatal("expected error for missing components")
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _, _, _ := newDaemon(t, cfg)

	sent, message, err := d.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("expected skipped notification, got sent=%v err=%v", sent, err)
	}
	if message != "ntfy topic not configured" {
		t.Fatalf("unexpected message %q", message)
	}
}
