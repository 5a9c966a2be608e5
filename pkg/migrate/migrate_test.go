package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateFS(Embedded(), embeddedDir))
	require.NoError(t, ValidateDir("migrations"))
}

func TestTransactionsMigrationHasIdentityIndex(t *testing.T) {
	content := readMigration(t, "*_create_transactions.sql")

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_identity",
		"(vendor, account_id, integration_id, batch_id, completion_id, type)",
		"DROP TABLE IF EXISTS transactions",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestSchedulersMigrationDedupesTasks(t *testing.T) {
	content := readMigration(t, "*_create_schedulers.sql")

	assert.Contains(t, content, "ux_schedulers_task ON schedulers (integration_id, completion_id, workflow)")
	assert.Contains(t, content, "REFERENCES integrations(id) ON DELETE CASCADE")
}

func TestValidateFSRejectsBadMigrations(t *testing.T) {
	valid := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name":      {"m/create_things.sql": {Data: []byte(valid)}},
		"duplicate":     {"m/20260101000000_a.sql": {Data: []byte(valid)}, "m/20260101000000_b.sql": {Data: []byte(valid)}},
		"missing down":  {"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"no migrations": {"m/README.md": {Data: []byte("docs")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateFS(fsys, "m"))
		})
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 20, 16, 20, 0, 0, time.UTC)

	path, err := createSQLMigration(dir, "Add Harvest Index!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260420162000_add_harvest_index.sql"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "-- +goose Up"))
	require.NoError(t, ValidateDir(dir))

	_, err = createSQLMigration(dir, "add harvest index", now)
	assert.Error(t, err)

	_, err = createSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := fs.Glob(Embedded(), embeddedDir+"/"+pattern)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := fs.ReadFile(Embedded(), matches[0])
	require.NoError(t, err)
	return string(data)
}
