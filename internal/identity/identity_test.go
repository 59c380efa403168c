package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.yaml")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, strings.HasPrefix(first.Label, "guest-"))
	assert.Len(t, first.Label, len("guest-")+4)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateKeepsLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: abc-123\nlabel: alice\n"), 0o600))

	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id.ID)
	assert.Equal(t, "alice", id.Label)
}

func TestLoadOrCreateFillsLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: abcdef\n"), 0o600))

	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, "guest-abcd", id.Label)

	again, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLoadOrCreateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: [unterminated"), 0o600))

	_, err := LoadOrCreate(path)
	assert.Error(t, err)
}

func TestNewIsUnique(t *testing.T) {
	assert.NotEqual(t, New().ID, New().ID)
}
