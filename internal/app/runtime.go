package app

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// TestModeEnv disables every binary's startup when truthy.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeMu  sync.RWMutex
	testModeSet bool
	testMode    bool
)

// InTestMode reports whether TestModeEnv was set the first time it was read.
func InTestMode() bool {
	testModeMu.RLock()
	set, on := testModeSet, testMode
	testModeMu.RUnlock()
	if set {
		return on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads TestModeEnv and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testModeMu.Lock()
	testMode, testModeSet = on, true
	testModeMu.Unlock()
	return on
}

// SkipStartup logs and returns true when binary must not touch Postgres or Redis.
func SkipStartup(binary string) bool {
	if !InTestMode() {
		return false
	}
	slog.Default().Info("test mode detected, skipping startup", slog.String("binary", binary))
	return true
}
