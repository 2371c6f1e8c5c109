package main

import (
	"testing"
)

const starterEvent = `{"externalEventId":"evt_1","type":"subscriptionCreated","accountId":"acct-1","targetPlan":"starter"}`

func TestBillingApplyIsIdempotent(t *testing.T) {
	env := setupCLITestEnv(t)
	eventPath := writeEventFile(t, env.baseDir, "event.json", starterEvent)

	out, _, err := runCLI(t, []string{"billing", "apply", eventPath}, env.configPath)
	if err != nil {
		t.Fatalf("billing apply: %v", err)
	}
	requireContains(t, out, "Event evt_1: applied")

	out, _, err = runCLI(t, []string{"billing", "apply", eventPath}, env.configPath)
	if err != nil {
		t.Fatalf("billing apply replay: %v", err)
	}
	requireContains(t, out, "Event evt_1: duplicate")

	out, _, err = runCLI(t, []string{"account", "show", "acct-1"}, env.configPath)
	if err != nil {
		t.Fatalf("account show: %v", err)
	}
	requireContains(t, out, "Starter (active)")
	requireContains(t, out, "evt_1")
}

func TestBillingApplyRejectsMalformedEvent(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := writeEventFile(t, env.baseDir, "bad.json", "{not json")
	if _, _, err := runCLI(t, []string{"billing", "apply", bad}, env.configPath); err == nil {
		t.Fatal("expected malformed event to fail")
	}
	noID := writeEventFile(t, env.baseDir, "noid.json", `{"type":"subscriptionCreated","accountId":"acct-1","targetPlan":"pro"}`)
	if _, _, err := runCLI(t, []string{"billing", "apply", noID}, env.configPath); err == nil {
		t.Fatal("expected event without id to fail")
	}
}

func TestBillingCheckout(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"account", "grant", "acct-1", "1"}, env.configPath); err != nil {
		t.Fatalf("account grant: %v", err)
	}
	out, _, err := runCLI(t, []string{"billing", "checkout", "acct-1", "mid"}, env.configPath)
	if err != nil {
		t.Fatalf("billing checkout: %v", err)
	}
	requireContains(t, out, "for Mid ($12.00)")

	if _, _, err := runCLI(t, []string{"billing", "checkout", "acct-1", "free"}, env.configPath); err == nil {
		t.Fatal("expected checkout for free plan to fail")
	}
}
