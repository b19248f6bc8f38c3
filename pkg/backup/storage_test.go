package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/koinonia/draftsafe/draft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T, st Storage) {
	assert := assert.New(t)

	_, err := st.GetItem("missing")
	assert.ErrorIs(err, ErrNoItem)

	require.NoError(t, st.SetItem("b", "2"))
	require.NoError(t, st.SetItem("a", "1"))
	require.NoError(t, st.SetItem("a", "one"))

	v, err := st.GetItem("a")
	require.NoError(t, err)
	assert.Equal("one", v)

	keys, err := st.Keys()
	require.NoError(t, err)
	assert.Equal([]string{"a", "b"}, keys)

	require.NoError(t, st.RemoveItem("a"))
	require.NoError(t, st.RemoveItem("a"))
	keys, err = st.Keys()
	require.NoError(t, err)
	assert.Equal([]string{"b"}, keys)
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, NewMemoryStorage(0))

	m := NewMemoryStorage(8)
	assert.NoError(t, m.SetItem("k", "1234"))
	// replacing a value only counts the new size
	assert.NoError(t, m.SetItem("k", "1234567"))
	assert.ErrorIs(t, m.SetItem("j", "1"), ErrQuotaExceeded)
}

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	fs, err := NewFileStorage(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, dir, fs.Dir())
	testStorage(t, fs)

	// keys with separators are escaped onto one file
	key := "draft_backup_new-posts/12_5"
	require.NoError(t, fs.SetItem(key, "x"))
	keys, err := fs.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	// no temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), e.Name())
	}
}

func TestFileStorageQuota(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), 10)
	require.NoError(t, err)
	require.NoError(t, fs.SetItem("a", "12345"))
	require.NoError(t, fs.SetItem("a", "1234567890"))
	assert.ErrorIs(t, fs.SetItem("b", "1"), ErrQuotaExceeded)
}

func TestStoreOverFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir, 0)
	require.NoError(t, err)
	s := NewStore(fs)

	_, err = s.Write(Snapshot{OwnerID: "u1", LinkedPost: "p/1", Payload: draft.NewPayload("t", "survives restarts"), CapturedAt: at(5)})
	require.NoError(t, err)

	// a fresh store over the same directory sees it
	again, err := NewFileStorage(dir, 0)
	require.NoError(t, err)
	snap, ok := NewStore(again).ReadLatest("u1")
	require.True(t, ok)
	assert.Equal(t, "survives restarts", snap.Payload.Content())
	assert.Equal(t, "p/1", snap.LinkedPost)
}
