package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFallbackChain(t *testing.T) {
	dir := t.TempDir()
	globalFile := filepath.Join(dir, "system_prompt.txt")
	store, err := NewStore(filepath.Join(dir, "prompts"), globalFile, nil)
	require.NoError(t, err)

	// Nothing configured: built-in default.
	assert.Equal(t, DefaultPrompt, store.Get("U1"))

	// Global file takes over.
	require.NoError(t, os.WriteFile(globalFile, []byte("global prompt\n"), 0o644))
	assert.Equal(t, "global prompt", store.Get("U1"))

	// User override wins over the global file.
	require.NoError(t, store.Set("U1", "my prompt"))
	assert.Equal(t, "my prompt", store.Get("U1"))
	assert.Equal(t, "global prompt", store.Get("U2"))
}

func TestClear(t *testing.T) {
	store, err := NewStore(t.TempDir(), "", nil)
	require.NoError(t, err)

	existed, err := store.Clear("U1")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, store.Set("U1", "custom"))
	existed, err = store.Clear("U1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, DefaultPrompt, store.Get("U1"))
}

func TestAwaitingFlag(t *testing.T) {
	store, err := NewStore(t.TempDir(), "", nil)
	require.NoError(t, err)

	assert.False(t, store.Awaiting("U1"))
	require.NoError(t, store.SetAwaiting("U1"))
	assert.True(t, store.Awaiting("U1"))
	assert.False(t, store.Awaiting("U2"))

	store.ClearAwaiting("U1")
	assert.False(t, store.Awaiting("U1"))
	// Clearing again is a no-op.
	store.ClearAwaiting("U1")
}
