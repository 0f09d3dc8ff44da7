package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePassword_LiteralWins(t *testing.T) {
	t.Setenv("PGPASSWORD", "from-env")

	got, err := ResolvePassword("literal", "echo from-command")
	require.NoError(t, err)
	assert.Equal(t, "literal", got)
}

func TestResolvePassword_CommandBeatsEnv(t *testing.T) {
	t.Setenv("PGPASSWORD", "from-env")

	got, err := ResolvePassword("", "echo from-command")
	require.NoError(t, err)
	assert.Equal(t, "from-command", got)
}

func TestResolvePassword_Env(t *testing.T) {
	t.Setenv("PGPASSWORD", "from-env")

	got, err := ResolvePassword("", "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestResolvePassword_EmptyEnvStillCounts(t *testing.T) {
	t.Setenv("PGPASSWORD", "")

	got, err := ResolvePassword("", "")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestResolvePassword_CommandOutputTrimmed(t *testing.T) {
	got, err := ResolvePassword("", "echo   spaced-out  ")
	require.NoError(t, err)
	assert.Equal(t, "spaced-out", got)
}

func TestResolvePassword_CommandFailure(t *testing.T) {
	_, err := ResolvePassword("", "false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password command failed")
}

func TestResolvePassword_CommandEmptyOutput(t *testing.T) {
	_, err := ResolvePassword("", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty password")
}

func TestExecutePasswordCommand_MissingBinary(t *testing.T) {
	_, err := executePasswordCommand("definitely-not-a-real-binary-xyz")
	require.Error(t, err)
}
