package media

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveOpenDelete(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	key, err := store.Save(KindImage, "image/png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "media/images/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	r, err := store.Open(key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.Delete(key))
	_, err = store.Open(key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete is idempotent.
	require.NoError(t, store.Delete(key))
}

func TestStoreKindDirectories(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	tests := []struct {
		kind   Kind
		mime   string
		prefix string
		ext    string
	}{
		{KindImage, "image/jpeg", "media/images/", ".jpg"},
		{KindAudio, "audio/m4a", "media/audio/", ".m4a"},
		{KindVideo, "video/mp4", "media/video/", ".mp4"},
		{KindVideo, "application/octet-stream", "media/video/", ".bin"},
	}
	for _, tt := range tests {
		key, err := store.Save(tt.kind, tt.mime, strings.NewReader("x"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, tt.prefix), key)
		assert.True(t, strings.HasSuffix(key, tt.ext), key)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, key := range []string{
		"../outside",
		"/etc/passwd",
		"media/../../etc/passwd",
		"history/user_U1.json",
	} {
		_, err := store.Open(key)
		assert.Error(t, err, key)
		assert.Error(t, store.Delete(key), key)
	}
}

func TestStoreList(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	k1, err := store.Save(KindImage, "image/png", strings.NewReader("a"))
	require.NoError(t, err)
	k2, err := store.Save(KindAudio, "audio/mpeg", strings.NewReader("b"))
	require.NoError(t, err)

	keys, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{k1, k2}, keys)
}

func TestSweeperRemovesOnlyOldOrphans(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	liveKey, err := store.Save(KindImage, "image/png", strings.NewReader("live"))
	require.NoError(t, err)
	orphanKey, err := store.Save(KindImage, "image/png", strings.NewReader("orphan"))
	require.NoError(t, err)

	sweeper := NewSweeper(store, func() (map[string]struct{}, error) {
		return map[string]struct{}{liveKey: {}}, nil
	}, nil)

	// Fresh files are skipped even when unreferenced.
	removed, err := sweeper.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)

	sweeper.minAge = 0
	removed, err = sweeper.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Open(liveKey)
	assert.NoError(t, err)
	_, err = store.Open(orphanKey)
	assert.ErrorIs(t, err, ErrNotFound)
}
