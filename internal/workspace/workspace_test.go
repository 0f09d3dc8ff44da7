package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFiles(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	ws, err := Open("mydb")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(Dir(), "mydb.sql"), ws.QueryPath)
	assert.Equal(t, filepath.Join(Dir(), "results.dbout"), ws.ResultsPath)

	query, err := os.ReadFile(ws.QueryPath)
	require.NoError(t, err)
	assert.Empty(t, query)

	results, err := os.ReadFile(ws.ResultsPath)
	require.NoError(t, err)
	assert.Contains(t, string(results), "-- Connected to: mydb")
}

func TestOpen_PreservesExistingQueryFile(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	ws, err := Open("mydb")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.QueryPath, []byte("SELECT 1;\n"), 0o644))

	// Reopening, as on reconnect, must not clobber the edit.
	ws2, err := Open("mydb")
	require.NoError(t, err)

	query, err := ws2.ReadQuery()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", query)
}

func TestWorkspace_ResultsRoundTrip(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	ws, err := Open("mydb")
	require.NoError(t, err)

	require.NoError(t, ws.WriteResults("-- Rows returned: 3\n"))
	raw, err := os.ReadFile(ws.ResultsPath)
	require.NoError(t, err)
	assert.Equal(t, "-- Rows returned: 3\n", string(raw))

	// Each write replaces the previous report.
	require.NoError(t, ws.WriteResults("-- No query to execute\n"))
	raw, err = os.ReadFile(ws.ResultsPath)
	require.NoError(t, err)
	assert.Equal(t, "-- No query to execute\n", string(raw))
}

func TestCleanup_RemovesQueryFileOnly(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	ws, err := Open("mydb")
	require.NoError(t, err)

	ws.Cleanup()

	_, err = os.Stat(ws.QueryPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ws.ResultsPath)
	assert.NoError(t, err)

	// Second cleanup is a no-op.
	ws.Cleanup()
}

func TestOpen_SeparateQueryFilesPerConnection(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	ws1, err := Open("alpha")
	require.NoError(t, err)
	ws2, err := Open("beta")
	require.NoError(t, err)

	assert.NotEqual(t, ws1.QueryPath, ws2.QueryPath)
	assert.Equal(t, ws1.ResultsPath, ws2.ResultsPath)
}
