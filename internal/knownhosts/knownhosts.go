// Package knownhosts verifies SSH server identities against the user's
// ~/.ssh/known_hosts file. Both plaintext (with * and ? globs) and hashed
// (|1|salt|hash) entries are supported. Verification fails closed: any
// parse problem, a missing file, or a key mismatch all mean "not trusted".
package knownhosts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/tmowbrey/sqlbridge/internal/logger"
)

// Path returns the location of the known_hosts file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// Verify checks the server's presented key for hostname:port against
// known_hosts. The file is read fresh on every call; it is never cached.
func Verify(hostname string, port int, serverKey ssh.PublicKey) bool {
	path, err := Path()
	if err != nil {
		logger.Warn("Host key verification failed", "error", err)
		return false
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Cannot read known_hosts file", "path", path, "error", err)
		return false
	}

	return verifyAgainst(contents, hostname, port, serverKey)
}

// verifyAgainst scans known_hosts contents for a line whose host pattern
// matches the lookup string and whose key equals the presented key. The
// first line matching both wins; anything else is a miss.
func verifyAgainst(contents []byte, hostname string, port int, serverKey ssh.PublicKey) bool {
	lookup := lookupString(hostname, port)

	lineNum := 0
	for _, line := range strings.Split(string(contents), "\n") {
		lineNum++
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			logger.Debug("Skipping malformed known_hosts line", "line", lineNum)
			continue
		}

		hostField, keyType, keyData := fields[0], fields[1], fields[2]

		var hostMatch bool
		if strings.HasPrefix(hostField, "|1|") {
			hostMatch = matchHashedHost(lookup, hostField)
		} else {
			hostMatch = matchPlainHost(lookup, hostField)
		}
		if !hostMatch {
			continue
		}

		knownKey, err := parseKnownKey(keyData)
		if err != nil {
			logger.Debug("Cannot parse known_hosts key", "line", lineNum, "type", keyType, "error", err)
			continue
		}
		if keysEqual(serverKey, knownKey) {
			logger.Info("Host key verified", "host", lookup, "line", lineNum)
			return true
		}
		logger.Debug("Host matched but key differs", "line", lineNum)
	}

	logger.Warn("No matching host key found in known_hosts", "host", lookup)
	return false
}

// lookupString builds the string host entries are matched against:
// plain hostname for the default SSH port, [hostname]:port otherwise.
func lookupString(hostname string, port int) string {
	if port == 22 {
		return hostname
	}
	return fmt.Sprintf("[%s]:%d", hostname, port)
}

// matchPlainHost matches the lookup string against a comma-separated list
// of plaintext host patterns.
func matchPlainHost(lookup, hostField string) bool {
	for _, pattern := range strings.Split(hostField, ",") {
		if pattern == lookup || matchPattern(lookup, pattern) {
			return true
		}
	}
	return false
}

// matchPattern implements known_hosts glob matching: * matches any run of
// characters including the empty one, ? matches exactly one character.
func matchPattern(host, pattern string) bool {
	if pattern == "" {
		return host == ""
	}
	switch pattern[0] {
	case '*':
		if matchPattern(host, pattern[1:]) {
			return true
		}
		for i := range host {
			if matchPattern(host[i+1:], pattern[1:]) {
				return true
			}
		}
		return false
	case '?':
		if host == "" {
			return false
		}
		return matchPattern(host[1:], pattern[1:])
	default:
		if host == "" || host[0] != pattern[0] {
			return false
		}
		return matchPattern(host[1:], pattern[1:])
	}
}

// matchHashedHost checks a |1|salt|hash entry: the HMAC-SHA1 of the lookup
// string keyed by the decoded salt must encode to exactly the stored hash.
func matchHashedHost(lookup, hostField string) bool {
	parts := strings.Split(hostField, "|")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "1" {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		logger.Debug("Cannot decode salt in hashed known_hosts entry", "error", err)
		return false
	}

	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(lookup))
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return computed == parts[3]
}

// parseKnownKey decodes the base64 key material into a typed public key.
func parseKnownKey(keyData string) (ssh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(keyData)
	if err != nil {
		return nil, fmt.Errorf("decode key material: %w", err)
	}
	key, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// keysEqual compares two keys by their canonical wire encoding, not by
// reference identity.
func keysEqual(a, b ssh.PublicKey) bool {
	return a.Type() == b.Type() && bytes.Equal(a.Marshal(), b.Marshal())
}
