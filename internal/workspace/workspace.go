// Package workspace manages the scratch files a connected session works
// through: one editable query file per connection, plus a shared results
// file that every execution overwrites.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tmowbrey/sqlbridge/internal/logger"
)

const resultsFileName = "results.dbout"

// Workspace is the scratch area for one named connection.
type Workspace struct {
	// QueryPath is the per-connection SQL scratch file.
	QueryPath string
	// ResultsPath is the shared results file.
	ResultsPath string
}

// Dir returns the workspace root directory.
func Dir() string {
	return filepath.Join(os.TempDir(), "sqlbridge")
}

// Open prepares the workspace for a named connection: the directory and
// query file exist afterwards, and the results file announces the session.
// An existing query file is kept untouched so edits survive reconnects.
func Open(name string) (*Workspace, error) {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
	}

	ws := &Workspace{
		QueryPath:   filepath.Join(dir, name+".sql"),
		ResultsPath: filepath.Join(dir, resultsFileName),
	}

	if _, err := os.Stat(ws.QueryPath); os.IsNotExist(err) {
		if err := os.WriteFile(ws.QueryPath, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create query file %s: %w", ws.QueryPath, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat query file %s: %w", ws.QueryPath, err)
	}

	banner := fmt.Sprintf("-- Connected to: %s\n-- Connected at: %s\n",
		name, time.Now().Format("2006-01-02 15:04:05"))
	if err := ws.WriteResults(banner); err != nil {
		return nil, err
	}

	logger.Debug("Workspace ready", "connection", name, "query_file", ws.QueryPath)
	return ws, nil
}

// ReadQuery returns the current contents of the query file.
func (w *Workspace) ReadQuery() (string, error) {
	raw, err := os.ReadFile(w.QueryPath)
	if err != nil {
		return "", fmt.Errorf("read query file %s: %w", w.QueryPath, err)
	}
	return string(raw), nil
}

// WriteResults replaces the results file with content.
func (w *Workspace) WriteResults(content string) error {
	if err := os.WriteFile(w.ResultsPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write results file %s: %w", w.ResultsPath, err)
	}
	return nil
}

// Cleanup removes the per-connection query file. The shared results file
// stays; another session may still be pointed at it.
func (w *Workspace) Cleanup() {
	if err := os.Remove(w.QueryPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove query file", "path", w.QueryPath, "error", err)
	}
}
