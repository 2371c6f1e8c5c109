package daemon

import (
	"context"
	"errors"
	"testing"

	"multitalk/internal/testsupport"
)

func TestClientHealth(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))

	client, err := NewClient(h.server.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.Database.Reachable || health.Version != "test" {
		t.Fatalf("unexpected health %+v", health)
	}

	anonymous, err := NewClient(h.server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := anonymous.Health(context.Background()); err == nil {
		t.Fatal("expected unauthorized error without token")
	}
}

func TestClientUnavailable(t *testing.T) {
	client, err := NewClient("127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Health(context.Background()); !errors.Is(err, ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
	if _, err := NewClient("  ", ""); err == nil {
		t.Fatal("expected error for empty bind")
	}
}
