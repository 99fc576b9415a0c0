package config_test

import (
	"os"
	"testing"

	"relaycore/internal/infra/config"
)

func TestLoad_DefaultsWhenEnvMissing(t *testing.T) {
	clearRelaycoreEnv(t)

	if err := config.Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := config.Current()

	if got.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", got.LogLevel)
	}
	if !got.ShouldClientJoinWrite {
		t.Fatalf("ShouldClientJoinWrite = false, want true (default)")
	}
	if got.CatchUpBeforeDeclaringConnected {
		t.Fatalf("CatchUpBeforeDeclaringConnected = true, want false (default)")
	}
	if got.MaxClientLeaveWaitSeconds != 0 {
		t.Fatalf("MaxClientLeaveWaitSeconds = %d, want 0 (use core default)", got.MaxClientLeaveWaitSeconds)
	}
}

func TestLoad_InvalidLogLevelFallsBackWithWarning(t *testing.T) {
	clearRelaycoreEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	if err := config.Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := config.Current().LogLevel; got != "info" {
		t.Fatalf("LogLevel = %q, want fallback info", got)
	}

	found := false
	for _, w := range config.Warnings() {
		if contains(w, "LOG_LEVEL") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a LOG_LEVEL warning, got %v", config.Warnings())
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	clearRelaycoreEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CATCH_UP_BEFORE_DECLARING_CONNECTED", "true")
	t.Setenv("SHOULD_CLIENT_JOIN_WRITE", "false")
	t.Setenv("MAX_CLIENT_LEAVE_WAIT_SEC", "120")

	if err := config.Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := config.Current()

	if got.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", got.LogLevel)
	}
	if !got.CatchUpBeforeDeclaringConnected {
		t.Fatalf("CatchUpBeforeDeclaringConnected = false, want true")
	}
	if got.ShouldClientJoinWrite {
		t.Fatalf("ShouldClientJoinWrite = true, want false")
	}
	if got.MaxClientLeaveWaitSeconds != 120 {
		t.Fatalf("MaxClientLeaveWaitSeconds = %d, want 120", got.MaxClientLeaveWaitSeconds)
	}
}

func clearRelaycoreEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LOG_LEVEL",
		"CATCH_UP_BEFORE_DECLARING_CONNECTED",
		"SHOULD_CLIENT_JOIN_WRITE",
		"MAX_CLIENT_LEAVE_WAIT_SEC",
		"SESSION_STORE_PATH",
	} {
		orig, had := os.LookupEnv(name)
		_ = os.Unsetenv(name)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(name, orig)
			}
		})
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
