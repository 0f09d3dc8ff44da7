// Package sshconfig resolves tunnel targets declared as aliases into the
// user's ~/.ssh/config file.
package sshconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// HostConfig is the normalized result of resolving an alias.
type HostConfig struct {
	Hostname     string
	Port         int
	User         string
	IdentityFile string
}

// Path returns the location of the user's SSH client config.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Resolve looks up alias in ~/.ssh/config and returns its connection
// parameters. The alias must appear as a Host entry; a config file that
// does not mention it is an error, not a default.
func Resolve(alias string) (*HostConfig, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read SSH config %s: %w", path, err)
	}
	defer f.Close()

	hc, err := resolveFrom(f, alias)
	if err != nil {
		return nil, fmt.Errorf("host %q: %w (in %s)", alias, err, path)
	}
	return hc, nil
}

func resolveFrom(r io.Reader, alias string) (*HostConfig, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("parse SSH config: %w", err)
	}

	if !hasHostEntry(cfg, alias) {
		return nil, fmt.Errorf("not found in SSH config")
	}

	hostname, err := cfg.Get(alias, "HostName")
	if err != nil || hostname == "" {
		return nil, fmt.Errorf("HostName not specified")
	}

	port := 22
	if p, err := cfg.Get(alias, "Port"); err == nil && p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	user, _ := cfg.Get(alias, "User")

	identityFile := ""
	if idf, err := cfg.Get(alias, "IdentityFile"); err == nil && idf != "" {
		identityFile = ExpandTilde(idf)
	}

	return &HostConfig{
		Hostname:     hostname,
		Port:         port,
		User:         user,
		IdentityFile: identityFile,
	}, nil
}

// hasHostEntry reports whether the config declares alias explicitly.
// A bare "Host *" block does not count as declaring it.
func hasHostEntry(cfg *ssh_config.Config, alias string) bool {
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			if pattern.String() == alias {
				return true
			}
		}
	}
	return false
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
