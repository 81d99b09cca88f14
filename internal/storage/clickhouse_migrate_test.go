package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	statements []string
	failOn     int
}

func (r *recordingExecutor) Exec(_ context.Context, query string, _ ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return errors.New("syntax error")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header
CREATE TABLE a (
    x Int64
) ENGINE = MergeTree() ORDER BY x;

-- second
CREATE TABLE b (y String) ENGINE = Log;
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.NotContains(t, stmts[0], "header")
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Log", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestSplitSQLStatements_Empty(t *testing.T) {
	assert.Empty(t, splitSQLStatements("-- only a comment\n\n"))
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (y String) ENGINE = Log;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x Int64) ENGINE = Log;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	exec := &recordingExecutor{}
	require.NoError(t, RunClickHouseMigrations(context.Background(), exec, dir))
	require.Len(t, exec.statements, 2)
	assert.Contains(t, exec.statements[0], "TABLE a")
	assert.Contains(t, exec.statements[1], "TABLE b")
}

func TestRunClickHouseMigrations_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("BROKEN;\nSELECT 2;"), 0o600))

	exec := &recordingExecutor{failOn: 1}
	err := RunClickHouseMigrations(context.Background(), exec, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.sql")
	assert.Len(t, exec.statements, 1)
}

func TestRunClickHouseMigrations_ActionLogSchema(t *testing.T) {
	exec := &recordingExecutor{}
	require.NoError(t, RunClickHouseMigrations(context.Background(), exec, "../../"+DefaultClickHouseMigrations))
	require.Len(t, exec.statements, 1)
	assert.Contains(t, exec.statements[0], "CREATE TABLE IF NOT EXISTS action_log")
}

func TestRunClickHouseMigrations_MissingDir(t *testing.T) {
	err := RunClickHouseMigrations(context.Background(), &recordingExecutor{}, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
