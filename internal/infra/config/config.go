// Package config loads and validates the environment configuration for a
// relaycore process: log level, the catch-up-gate feature flag, and the
// owner-facing knobs (should the client join as a writer, how long to wait
// for a departing client's Leave) consumed by connstate.Owner.
//
// Loading reads a .env file via godotenv, falls back to documented defaults
// for anything missing or malformed, and records a warning for each
// fallback rather than failing the process — the same shape as the
// teacher's own environment loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Env holds the process-wide configuration, loaded once via Load.
type Env struct {
	LogLevel string

	// CatchUpBeforeDeclaringConnected: when true, a CatchUpGate should be
	// installed in front of the core so Connected is only forwarded once the
	// local catch-up monitor reports caught up.
	CatchUpBeforeDeclaringConnected bool

	// ShouldClientJoinWrite is the demo stand-in for Owner.ShouldClientJoinWrite:
	// whether the local client currently has outstanding write ops that
	// require waiting for the previous client's Leave before promoting.
	ShouldClientJoinWrite bool

	// MaxClientLeaveWaitSeconds overrides connstate.DefaultLeaveWait (300s)
	// when positive; zero or unset means "use the default".
	MaxClientLeaveWaitSeconds int

	// SessionStorePath is where the demo's sessionstore persists the last
	// promoted client id (see internal/sessionstore).
	SessionStorePath string
}

// Config wraps Env with a mutex so a long-running demo process can re-load
// configuration without racing readers.
type Config struct {
	mu       sync.RWMutex
	env      Env
	warnings []string
}

const (
	defaultLogLevel         = "info"
	defaultSessionStorePath = "data/relaycore_session.bbolt"
)

var (
	instance     *Config
	instanceOnce sync.Once
)

// Load reads envPath (a .env file; a missing file is not an error — godotenv
// simply leaves the real environment as the only source) and builds the
// process-wide Config singleton. Safe to call more than once; each call
// reloads and replaces the singleton's snapshot.
func Load(envPath string) error {
	instanceOnce.Do(func() { instance = &Config{} })

	cfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}

	instance.mu.Lock()
	instance.env = cfg.env
	instance.warnings = cfg.warnings
	instance.mu.Unlock()
	return nil
}

// loadConfig performs the actual parse/validate without touching the
// singleton, so tests can build a throwaway Config and assert on it.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env %q: %w", envPath, err)
		}
	}

	var warnings []string

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	catchUp := parseBoolDefault("CATCH_UP_BEFORE_DECLARING_CONNECTED", false, &warnings)
	shouldJoinWrite := parseBoolDefault("SHOULD_CLIENT_JOIN_WRITE", true, &warnings)
	leaveWaitSec := parseIntDefault("MAX_CLIENT_LEAVE_WAIT_SEC", 0, nonNegative, &warnings)
	sessionPath := sanitizeFile("SESSION_STORE_PATH", os.Getenv("SESSION_STORE_PATH"), defaultSessionStorePath, &warnings)

	return &Config{
		env: Env{
			LogLevel:                        logLevel,
			CatchUpBeforeDeclaringConnected: catchUp,
			ShouldClientJoinWrite:           shouldJoinWrite,
			MaxClientLeaveWaitSeconds:       leaveWaitSec,
			SessionStorePath:                sessionPath,
		},
		warnings: warnings,
	}, nil
}

// Current returns a copy of the singleton's current Env. Panics if Load has
// never been called.
func Current() Env {
	if instance == nil {
		panic("config: Load must be called before Current")
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.env
}

// Warnings returns the fallback warnings accumulated by the last Load.
func Warnings() []string {
	if instance == nil {
		return nil
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	out := make([]string, len(instance.warnings))
	copy(out, instance.warnings)
	return out
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func nonNegative(v int) bool { return v >= 0 }

func sanitizeLogLevel(level string, warnings *[]string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug"
	case "info", "":
		return defaultLogLevel
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is not recognized; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid bool; using default %t", name, value, defaultVal)
		return defaultVal
	}
	return v
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
