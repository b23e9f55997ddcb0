// Package testutil provides fixtures for repository tests: bundles,
// repository documents and a scratch document store.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/infrastructure/sqlite"
)

// NewTestDB opens a migrated database in a temporary directory and closes
// it when the test ends.
func NewTestDB(t testing.TB) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "obr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
