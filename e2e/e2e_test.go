package e2e

import (
	"os"
	"sync"
	"testing"
)

// Shared by all tests; started by the first ensureHarness call.
var (
	harness     *TestHarness
	dba         *DBAssert
	harnessOnce sync.Once
)

func ensureHarness(t *testing.T) (*TestHarness, *DBAssert) {
	t.Helper()
	harnessOnce.Do(func() {
		harness = NewHarness(t)
		dba = NewDBAssert(harness.DBPath)
	})
	if harness == nil {
		t.Skip("harness unavailable")
	}
	return harness, dba
}

func TestMain(m *testing.M) {
	code := m.Run()
	if dba != nil {
		dba.Close()
	}
	if harness != nil {
		harness.Stop()
	}
	os.Exit(code)
}
