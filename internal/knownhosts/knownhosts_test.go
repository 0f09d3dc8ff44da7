package knownhosts

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func plainLine(host string, key ssh.PublicKey) string {
	return fmt.Sprintf("%s %s %s", host, key.Type(), base64.StdEncoding.EncodeToString(key.Marshal()))
}

func hashedLine(t *testing.T, lookup string, key ssh.PublicKey) string {
	t.Helper()
	salt := make([]byte, 20)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(lookup))

	return fmt.Sprintf("|1|%s|%s %s %s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		key.Type(),
		base64.StdEncoding.EncodeToString(key.Marshal()))
}

func TestVerifyAgainst_PlaintextMatch(t *testing.T) {
	key := genKey(t)
	contents := []byte(plainLine("db.example.com", key) + "\n")

	assert.True(t, verifyAgainst(contents, "db.example.com", 22, key))
}

func TestVerifyAgainst_KeyMismatch(t *testing.T) {
	known := genKey(t)
	presented := genKey(t)
	contents := []byte(plainLine("db.example.com", known) + "\n")

	assert.False(t, verifyAgainst(contents, "db.example.com", 22, presented))
}

func TestVerifyAgainst_NonStandardPort(t *testing.T) {
	key := genKey(t)

	// Port 2222 entries use the bracketed form.
	contents := []byte(plainLine("[db.example.com]:2222", key) + "\n")
	assert.True(t, verifyAgainst(contents, "db.example.com", 2222, key))

	// A bare hostname entry must not match a non-22 port.
	contents = []byte(plainLine("db.example.com", key) + "\n")
	assert.False(t, verifyAgainst(contents, "db.example.com", 2222, key))
}

func TestVerifyAgainst_CommaSeparatedHosts(t *testing.T) {
	key := genKey(t)
	contents := []byte(plainLine("db.example.com,10.0.0.5", key) + "\n")

	assert.True(t, verifyAgainst(contents, "10.0.0.5", 22, key))
}

func TestVerifyAgainst_HashedEntry(t *testing.T) {
	key := genKey(t)
	contents := []byte(hashedLine(t, "db.example.com", key) + "\n")

	assert.True(t, verifyAgainst(contents, "db.example.com", 22, key))
	assert.False(t, verifyAgainst(contents, "other.example.com", 22, key))
}

func TestVerifyAgainst_HashedEntryNonStandardPort(t *testing.T) {
	key := genKey(t)
	contents := []byte(hashedLine(t, "[db.example.com]:2222", key) + "\n")

	assert.True(t, verifyAgainst(contents, "db.example.com", 2222, key))
	assert.False(t, verifyAgainst(contents, "db.example.com", 22, key))
}

func TestVerifyAgainst_SkipsJunkLines(t *testing.T) {
	key := genKey(t)
	contents := []byte("# comment line\n" +
		"\n" +
		"malformed\n" +
		"host.example.com ssh-ed25519 not-base64!!\n" +
		plainLine("db.example.com", key) + "\n")

	assert.True(t, verifyAgainst(contents, "db.example.com", 22, key))
}

func TestVerifyAgainst_EmptyFile(t *testing.T) {
	key := genKey(t)
	assert.False(t, verifyAgainst(nil, "db.example.com", 22, key))
}

func TestVerify_MissingFileFailsClosed(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	key := genKey(t)
	assert.False(t, Verify("db.example.com", 22, key))
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		want    bool
	}{
		{"db.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"anything.at.all", "*", true},
		{"", "*", true},
		{"example.com", "ex?mple.com", true},
		{"exmple.com", "ex?mple.com", false},
		{"db.example.com", "db.example.com", true},
		{"db.example.org", "db.example.com", false},
		{"ab", "a*b", true},
		{"axxxb", "a*b", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.host, tt.pattern))
		})
	}
}

func TestLookupString(t *testing.T) {
	assert.Equal(t, "db.example.com", lookupString("db.example.com", 22))
	assert.Equal(t, "[db.example.com]:2222", lookupString("db.example.com", 2222))
}
