// Package tests contains test cases for models, repositories, and business
// flows to avoid circular imports
package tests

import (
	"testing"

	testingutil "github.com/parsclinic/clinic-core/testing"
)

// withTestDB provisions an isolated database for one test and tears it down
// afterwards. Skips when no PostgreSQL server is reachable.
func withTestDB(t *testing.T, fn func(t *testing.T, testDB *testingutil.TestDB)) {
	t.Helper()

	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(); cleanupErr != nil {
			t.Logf("warning: failed to cleanup test database: %v", cleanupErr)
		}
	}()

	fn(t, testDB)
}
