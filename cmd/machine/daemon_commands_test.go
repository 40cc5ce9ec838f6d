package main

import (
	"strings"
	"testing"
)

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "[ERROR] Not running")
	requireContains(t, out, "Queued:")
	requireContains(t, out, "Total:")
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestPreflightCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "preflight")
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "Data directory:")
	requireContains(t, out, "[OK] in-process memory bus")
	if strings.Contains(out, "[ERROR]") {
		t.Fatalf("unexpected failure in %q", out)
	}
}

func TestPreflightCommandFailsOnUnreachableAuth(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("MACHINE_AUTH_URL", "http://127.0.0.1:1")

	out, err := env.run(t, "preflight")
	if err == nil {
		t.Fatalf("expected preflight failure, got output %q", out)
	}
	requireContains(t, out, "Auth service:")
}
