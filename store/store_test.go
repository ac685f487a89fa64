package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVImplementations(t *testing.T) {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	for name, kv := range map[string]KV{
		"sqlite": sqlite,
		"memory": NewMemory(),
	} {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, kv.Close()) }()

			_, ok, err := kv.Get("missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, kv.Set("key", []byte("one")))
			value, ok, err := kv.Get("key")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("one"), value)

			// Replaces in place.
			require.NoError(t, kv.Set("key", []byte("two")))
			value, _, err = kv.Get("key")
			require.NoError(t, err)
			require.Equal(t, []byte("two"), value)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	first, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(KeySessions, []byte(`{}`)))
	require.NoError(t, first.Close())

	second, err := NewSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	value, ok, err := second.Get(KeySessions)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{}`), value)
}

func TestMemoryCopiesValues(t *testing.T) {
	kv := NewMemory()
	original := []byte("abc")
	require.NoError(t, kv.Set("key", original))
	original[0] = 'x'

	value, _, err := kv.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), value)

	value[0] = 'y'
	again, _, err := kv.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
