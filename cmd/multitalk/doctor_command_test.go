package main

import (
	"encoding/json"
	"testing"

	"multitalk/internal/preflight"
)

func TestDoctorPassesWithLocalConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Preflight")
	requireContains(t, out, "Database")

	out, _, err = runCLI(t, []string{"--json", "doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor --json: %v", err)
	}
	var results []preflight.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode doctor json: %v\n%s", err, out)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 checks, got %+v", results)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}
