package migration

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	migrations, err := Load()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, "20250101000000", migrations[0].Version)
	assert.Equal(t, "create_tenants", migrations[0].Name)
	assert.Contains(t, migrations[1].UpSQL, "idx_orders_one_active_per_table")
	assert.Contains(t, migrations[2].DownSQL, "DROP TABLE IF EXISTS analytics_records")
}

func TestLoadRejectsMissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20250101000000_x.down.sql": {Data: []byte("DROP TABLE x")},
	}
	_, err := loadFS(fsys, "m")
	assert.Error(t, err)
}

func TestParseFileName(t *testing.T) {
	v, n, d, ok := parseFileName("20250101000100_create_orders.up.sql")
	require.True(t, ok)
	assert.Equal(t, "20250101000100", v)
	assert.Equal(t, "create_orders", n)
	assert.Equal(t, "up", d)

	for _, bad := range []string{"README.md", "2025_short.up.sql", "20250101000100_x.sideways.sql"} {
		_, _, _, ok := parseFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestSplitSQL(t *testing.T) {
	stmts := splitSQL(`
-- leading comment
CREATE TABLE a (id INT);

CREATE INDEX idx ON a(id);
`)
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX idx ON a(id)"}, stmts)
}

func TestMergeStatus(t *testing.T) {
	migrations := []Migration{{Version: "1", Name: "a"}, {Version: "2", Name: "b"}}
	records := []MigrationRecord{{Version: "1", Name: "a", Status: StatusApplied}}

	status := mergeStatus(migrations, records)
	require.Len(t, status, 2)
	assert.Equal(t, StatusApplied, status[0].Status)
	assert.Equal(t, StatusPending, status[1].Status)
}
