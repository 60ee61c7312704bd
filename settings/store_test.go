package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStoreBasics(t *testing.T, s Store) {
	require := require.New(t)

	_, err := s.Get("missing")
	require.ErrorIs(err, ErrNotFound)

	require.NoError(s.Set("a", []byte("1")))
	val, err := s.Get("a")
	require.NoError(err)
	require.Equal([]byte("1"), val)

	// returned values are copies
	val[0] = '9'
	val, err = s.Get("a")
	require.NoError(err)
	require.Equal([]byte("1"), val)

	require.NoError(s.Set("a", []byte("2")))
	val, err = s.Get("a")
	require.NoError(err)
	require.Equal([]byte("2"), val)

	require.NoError(s.Delete("a"))
	_, err = s.Get("a")
	require.ErrorIs(err, ErrNotFound)

	require.NoError(s.Delete("a"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStoreBasics(t, s)
	require.Zero(t, s.Len())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.Equal(t, path, s.Path())

	testStoreBasics(t, s)

	require.NoError(t, s.Set("k", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	val, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), val)
}

func TestOpenBoltStore_Error(t *testing.T) {
	_, err := OpenBoltStore(filepath.Join(t.TempDir(), "missing", "prefs.db"))
	require.Error(t, err)
}
