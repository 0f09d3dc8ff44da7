// Package tunnel manages SSH tunnels that carry database traffic to hosts
// not directly reachable from this machine. Each named connection gets at
// most one tunnel: a local loopback listener whose accepted connections are
// forwarded over direct-tcpip channels of a shared SSH session.
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tmowbrey/sqlbridge/internal/config"
	"github.com/tmowbrey/sqlbridge/internal/knownhosts"
	"github.com/tmowbrey/sqlbridge/internal/logger"
	"github.com/tmowbrey/sqlbridge/internal/sshconfig"
)

// sshDialTimeout bounds the TCP connect plus SSH handshake, so a dead
// bastion fails fast instead of hanging the connect path.
const sshDialTimeout = 10 * time.Second

var (
	// ErrNoPrivateKey is returned when no key path is configured and none of
	// the default key files exist.
	ErrNoPrivateKey = errors.New("no SSH private key found (tried ~/.ssh/id_rsa, ~/.ssh/id_ed25519)")
	// ErrHostKeyVerification is returned when the server's host key is not
	// trusted by known_hosts.
	ErrHostKeyVerification = errors.New("host key verification failed")
)

// Target is the normalized SSH connection target, produced from either
// shape of tunnel spec before the common connect pipeline runs.
type Target struct {
	Hostname string
	Port     int
	User     string
	KeyPath  string
}

// sshClient is the slice of *ssh.Client the manager uses. Tests substitute
// a counting fake.
type sshClient interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// sshDialFunc establishes an authenticated SSH session.
type sshDialFunc func(addr string, cfg *ssh.ClientConfig) (sshClient, error)

// ActiveTunnel is one live forwarding path. Its accept loop runs for
// exactly as long as the record exists.
type ActiveTunnel struct {
	LocalPort  int
	RemoteHost string
	RemotePort int

	listener net.Listener
	client   sshClient
	// chanMu serializes channel opens on the shared SSH session; issuing
	// them concurrently is unsafe.
	chanMu sync.Mutex
}

// stop force-closes the tunnel. In-flight forwarding is cut, not drained;
// both endpoints observe the socket disappearing.
func (t *ActiveTunnel) stop() {
	if t.listener != nil {
		t.listener.Close()
	}
	if t.client != nil {
		t.client.Close()
	}
}

// Manager owns all active tunnels.
type Manager struct {
	mu      sync.Mutex
	tunnels map[string]*ActiveTunnel

	ports *PortAllocator

	// skipHostKeyVerification disables known_hosts checks. Insecure.
	skipHostKeyVerification bool

	dialSSH sshDialFunc
}

// NewManager creates a tunnel manager.
func NewManager(skipHostKeyVerification bool) *Manager {
	return &Manager{
		tunnels:                 make(map[string]*ActiveTunnel),
		ports:                   NewPortAllocator(),
		skipHostKeyVerification: skipHostKeyVerification,
		dialSSH: func(addr string, cfg *ssh.ClientConfig) (sshClient, error) {
			return ssh.Dial("tcp", addr, cfg)
		},
	}
}

// GetOrCreate returns the local port of the tunnel for the named
// connection, establishing it first if needed. Idempotent per name: an
// existing tunnel's port is returned without a new SSH dial.
func (m *Manager) GetOrCreate(name string, spec *config.Tunnel, remoteHost string, remotePort int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tun, ok := m.tunnels[name]; ok {
		return tun.LocalPort, nil
	}

	localPort, err := m.ports.Allocate(name)
	if err != nil {
		return 0, fmt.Errorf("allocate local port for tunnel %q: %w", name, err)
	}

	tun, err := m.createTunnel(spec, localPort, remoteHost, remotePort)
	if err != nil {
		m.ports.Deallocate(localPort)
		return 0, fmt.Errorf("create SSH tunnel for connection %q: %w", name, err)
	}

	m.tunnels[name] = tun
	return localPort, nil
}

// Port returns the local port of an existing tunnel.
func (m *Manager) Port(name string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tun, ok := m.tunnels[name]
	if !ok {
		return 0, false
	}
	return tun.LocalPort, true
}

// Close tears down the named tunnel. No-op if it does not exist.
func (m *Manager) Close(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tun, ok := m.tunnels[name]
	if !ok {
		return
	}
	delete(m.tunnels, name)
	m.ports.Deallocate(tun.LocalPort)
	tun.stop()
	logger.Info("Closed tunnel", "connection", name, "local_port", tun.LocalPort)
}

// CloseAll tears down every tunnel.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, tun := range m.tunnels {
		delete(m.tunnels, name)
		m.ports.Deallocate(tun.LocalPort)
		tun.stop()
		logger.Info("Closed tunnel", "connection", name, "local_port", tun.LocalPort)
	}
}

// createTunnel resolves the target, authenticates the SSH session, binds
// the local listener, and starts the accept loop.
func (m *Manager) createTunnel(spec *config.Tunnel, localPort int, remoteHost string, remotePort int) (*ActiveTunnel, error) {
	target, err := resolveTarget(spec)
	if err != nil {
		return nil, err
	}

	logger.Info("Creating SSH tunnel",
		"ssh_host", target.Hostname,
		"ssh_port", target.Port,
		"ssh_user", target.User,
		"local_port", localPort,
		"remote_host", remoteHost,
		"remote_port", remotePort,
	)

	signer, err := loadPrivateKey(target.KeyPath)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: m.hostKeyCallback(target.Hostname, target.Port),
		Timeout:         sshDialTimeout,
	}

	addr := net.JoinHostPort(target.Hostname, fmt.Sprintf("%d", target.Port))
	client, err := m.dialSSH(addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	logger.Debug("SSH session established", "addr", addr)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("bind local port %d: %w", localPort, err)
	}

	tun := &ActiveTunnel{
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		listener:   listener,
		client:     client,
	}

	go tun.acceptLoop()

	logger.Info("Tunnel established", "local_port", localPort)
	return tun, nil
}

// hostKeyCallback builds the handshake verification hook. With the bypass
// flag set, verification is skipped entirely and every use is logged loudly.
func (m *Manager) hostKeyCallback(hostname string, port int) ssh.HostKeyCallback {
	if m.skipHostKeyVerification {
		return func(string, net.Addr, ssh.PublicKey) error {
			logger.Warn("SECURITY WARNING: skipping host key verification (skip_host_key_verification is enabled)",
				"host", hostname, "port", port)
			return nil
		}
	}
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		if knownhosts.Verify(hostname, port, key) {
			return nil
		}
		return fmt.Errorf("%w for %s:%d", ErrHostKeyVerification, hostname, port)
	}
}

// acceptLoop forwards each accepted local connection independently. The
// loop ends, and the tunnel stops being usable, only when Accept fails.
func (t *ActiveTunnel) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			logger.Debug("Tunnel accept loop ended", "local_port", t.LocalPort, "error", err)
			return
		}
		go t.forward(conn)
	}
}

// forward opens a direct-tcpip channel for one local connection and copies
// bytes in both directions until either side closes. Errors here are
// contained; they never take down the tunnel or other connections.
func (t *ActiveTunnel) forward(local net.Conn) {
	defer local.Close()

	remoteAddr := net.JoinHostPort(t.RemoteHost, fmt.Sprintf("%d", t.RemotePort))

	t.chanMu.Lock()
	channel, err := t.client.Dial("tcp", remoteAddr)
	t.chanMu.Unlock()
	if err != nil {
		logger.Error("Failed to open SSH channel", "remote", remoteAddr, "error", err)
		return
	}
	defer channel.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := io.Copy(channel, local); err != nil {
			logger.Debug("Forwarding local->remote ended", "error", err)
		}
		channel.Close()
	}()
	go func() {
		defer wg.Done()
		if _, err := io.Copy(local, channel); err != nil {
			logger.Debug("Forwarding remote->local ended", "error", err)
		}
		local.Close()
	}()
	wg.Wait()
}

// resolveTarget normalizes either tunnel spec shape into a Target.
func resolveTarget(spec *config.Tunnel) (*Target, error) {
	if spec.IsConfigRef() {
		host, err := sshconfig.Resolve(spec.SSHConfig)
		if err != nil {
			return nil, err
		}
		user := host.User
		if user == "" {
			user = os.Getenv("USER")
			if user == "" {
				user = os.Getenv("USERNAME")
			}
			if user == "" {
				return nil, fmt.Errorf("cannot determine SSH user: set User in SSH config for %q or the USER environment variable", spec.SSHConfig)
			}
		}
		return &Target{
			Hostname: host.Hostname,
			Port:     host.Port,
			User:     user,
			KeyPath:  host.IdentityFile,
		}, nil
	}

	return &Target{
		Hostname: spec.Host,
		Port:     spec.Port,
		User:     spec.User,
		KeyPath:  spec.KeyPath,
	}, nil
}

// loadPrivateKey parses the key at path, or the first default key that
// exists when path is empty.
func loadPrivateKey(path string) (ssh.Signer, error) {
	if path == "" {
		var err error
		path, err = findDefaultKey()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SSH key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse SSH key %s: %w", path, err)
	}
	logger.Debug("Loaded SSH private key", "path", path)
	return signer, nil
}

// findDefaultKey probes the default key files in order.
func findDefaultKey() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	for _, candidate := range []string{"id_rsa", "id_ed25519"} {
		path := filepath.Join(home, ".ssh", candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoPrivateKey
}
