// Package manager orchestrates named database connections: it owns the
// session cache, drives tunnel setup for connections that need one, and
// runs queries from workspace files into the shared results file.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/tmowbrey/sqlbridge/internal/config"
	"github.com/tmowbrey/sqlbridge/internal/db"
	"github.com/tmowbrey/sqlbridge/internal/logger"
	"github.com/tmowbrey/sqlbridge/internal/meta"
	"github.com/tmowbrey/sqlbridge/internal/tunnel"
	"github.com/tmowbrey/sqlbridge/internal/workspace"
)

// ActiveConnection is one live session and its workspace.
type ActiveConnection struct {
	Name       string
	Session    db.Session
	UsesTunnel bool
	LocalPort  int
	Workspace  *workspace.Workspace
}

// Manager owns all active connections. One lock covers the whole cache,
// which also serializes connection establishment: two concurrent requests
// for the same name can never both dial.
type Manager struct {
	cfg     *config.Config
	tunnels *tunnel.Manager

	mu     sync.Mutex
	active map[string]*ActiveConnection

	dial db.DialFunc
}

// New creates a connection manager over the loaded configuration.
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:     cfg,
		tunnels: tunnel.NewManager(cfg.SkipHostKeyVerification),
		active:  make(map[string]*ActiveConnection),
		dial:    db.Dial,
	}
}

// GetOrCreate returns the active connection for name, establishing it
// first if needed. Idempotent per name: an existing session is returned
// without another database dial.
func (m *Manager) GetOrCreate(ctx context.Context, name string) (*ActiveConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.active[name]; ok {
		logger.Debug("Reusing active connection", "connection", name)
		return conn, nil
	}

	desc, err := m.cfg.Get(name)
	if err != nil {
		return nil, err
	}

	return m.connect(ctx, desc)
}

// connect establishes the session for one descriptor. Caller holds m.mu.
func (m *Manager) connect(ctx context.Context, desc *config.Connection) (*ActiveConnection, error) {
	host := desc.Host
	port := desc.Port
	usesTunnel := desc.NeedsTunnel()
	localPort := 0

	if usesTunnel {
		var err error
		localPort, err = m.tunnels.GetOrCreate(desc.Name, desc.Tunnel, desc.Host, desc.Port)
		if err != nil {
			return nil, err
		}
		host = "127.0.0.1"
		port = localPort
	}

	password, err := db.ResolvePassword(desc.Password, desc.PasswordCommand)
	if err != nil {
		m.cleanupTunnel(desc.Name, usesTunnel)
		return nil, fmt.Errorf("resolve password for connection %q: %w", desc.Name, err)
	}

	session, err := m.dial(ctx, db.ConnParams{
		Host:     host,
		Port:     port,
		User:     desc.Username,
		Password: password,
		Database: desc.Database,
	})
	if err != nil {
		m.cleanupTunnel(desc.Name, usesTunnel)
		return nil, fmt.Errorf("connect to database for connection %q: %w", desc.Name, err)
	}

	ws, err := workspace.Open(desc.Name)
	if err != nil {
		session.Close()
		m.cleanupTunnel(desc.Name, usesTunnel)
		return nil, err
	}

	conn := &ActiveConnection{
		Name:       desc.Name,
		Session:    session,
		UsesTunnel: usesTunnel,
		LocalPort:  localPort,
		Workspace:  ws,
	}
	m.active[desc.Name] = conn

	logger.Info("Connection established",
		"connection", desc.Name,
		"tunneled", usesTunnel,
	)
	return conn, nil
}

func (m *Manager) cleanupTunnel(name string, usesTunnel bool) {
	if usesTunnel {
		m.tunnels.Close(name)
	}
}

// Close tears down the named connection and its tunnel. Closing a name
// with no active connection succeeds silently.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.active[name]
	if !ok {
		return nil
	}
	delete(m.active, name)

	conn.Session.Close()
	conn.Workspace.Cleanup()
	if conn.UsesTunnel {
		m.tunnels.Close(name)
	}
	logger.Info("Connection closed", "connection", name)
	return nil
}

// CloseAll tears down every active connection, then every tunnel.
// Best-effort: one failure does not stop the rest.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, conn := range m.active {
		delete(m.active, name)
		conn.Session.Close()
		conn.Workspace.Cleanup()
		logger.Info("Connection closed", "connection", name)
	}
	m.tunnels.CloseAll()
}

// Names returns the names of all active connections.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	return names
}

// Test checks the named connection with a version round trip and returns
// the server version string. It connects first if needed.
func (m *Manager) Test(ctx context.Context, name string) (string, error) {
	conn, err := m.GetOrCreate(ctx, name)
	if err != nil {
		return "", err
	}

	result, err := conn.Session.Query(ctx, "SELECT version()")
	if err != nil {
		return "", fmt.Errorf("test query for connection %q: %w", name, err)
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return "", fmt.Errorf("test query for connection %q returned no rows", name)
	}
	return result.Rows[0][0], nil
}

// Execute reads the query file for the named connection, runs its
// contents, and writes a rendered report to the results file. Query
// failures are rendered into the report rather than returned; the error
// return covers only connection and file problems.
func (m *Manager) Execute(ctx context.Context, name string) error {
	conn, err := m.GetOrCreate(ctx, name)
	if err != nil {
		return err
	}

	raw, err := conn.Workspace.ReadQuery()
	if err != nil {
		return err
	}

	stripped := stripComments(raw)
	if strings.TrimSpace(stripped) == "" {
		return conn.Workspace.WriteResults("-- No query to execute\n")
	}

	sql := raw
	if cmd, ok := meta.Parse(stripped); ok {
		sql = cmd.SQL()
		logger.Debug("Expanded meta-command", "connection", name)
	}

	start := time.Now()
	result, err := conn.Session.Query(ctx, sql)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("Query failed", "connection", name, "error", err)
		return conn.Workspace.WriteResults(renderError(err, sql))
	}

	logger.Info("Query executed",
		"connection", name,
		"rows", len(result.Rows),
		"duration", elapsed,
	)
	return conn.Workspace.WriteResults(renderResult(result, start, elapsed))
}

// renderResult formats a successful execution report.
func renderResult(result *db.Result, start time.Time, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Executed at: %s\n", start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "-- Execution time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "-- Rows returned: %d\n\n", len(result.Rows))

	if len(result.Rows) == 0 {
		b.WriteString("(No rows returned)\n")
		return b.String()
	}

	b.WriteString(renderTable(result))
	return b.String()
}

// renderTable draws the result set as a text table.
func renderTable(result *db.Result) string {
	data := make(pterm.TableData, 0, len(result.Rows)+1)
	data = append(data, result.Columns)
	data = append(data, result.Rows...)

	pterm.DisableColor()
	defer pterm.EnableColor()

	out, err := pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithData(data).
		Srender()
	if err != nil {
		// Degenerate fallback, pterm only fails on impossible table shapes.
		return fmt.Sprintf("%v\n%v\n", result.Columns, result.Rows)
	}
	return out + "\n"
}

// renderError formats a failed execution report, echoing the SQL that was
// actually sent so the failure can be reproduced.
func renderError(err error, sql string) string {
	var b strings.Builder
	if msg, ok := db.EngineMessage(err); ok {
		fmt.Fprintf(&b, "-- Error: %s\n", msg)
	} else {
		fmt.Fprintf(&b, "-- Error: query failed: %s\n", err.Error())
	}
	b.WriteString("\n-- Executed SQL:\n")
	b.WriteString(sql)
	if !strings.HasSuffix(sql, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// stripComments removes line (--) and block (/* */) comments and collapses
// the remainder's whitespace. Used for meta-command detection and the
// empty-query check; the SQL actually executed keeps its comments.
func stripComments(sql string) string {
	var b strings.Builder
	inLine := false
	inBlock := false

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		if inLine {
			if runes[i] == '\n' {
				inLine = false
				b.WriteRune('\n')
			}
			continue
		}
		if inBlock {
			if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		}
		if runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			inLine = true
			i++
			continue
		}
		if runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			inBlock = true
			i++
			continue
		}
		b.WriteRune(runes[i])
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
