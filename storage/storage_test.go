package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewMemory(8)
	require.NoError(t, err)
	lvMem, err := NewLevelDBMemory()
	require.NoError(t, err)
	lvFile, err := NewLevelDB(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sql, err := NewSQLite(dsn)
	require.NoError(t, err)

	stores := map[string]Store{
		"memory":        mem,
		"leveldb-mem":   lvMem,
		"leveldb-file":  lvFile,
		"sqlite-memory": sql,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoresRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := s.Get("nodelist_1")
			require.False(t, ok)

			require.NoError(t, s.Set("nodelist_1", []byte{6, 1, 2}))
			v, ok := s.Get("nodelist_1")
			require.True(t, ok)
			require.Equal(t, []byte{6, 1, 2}, v)

			require.NoError(t, s.Set("nodelist_1", []byte{6, 9}))
			v, ok = s.Get("nodelist_1")
			require.True(t, ok)
			require.Equal(t, []byte{6, 9}, v)

			require.NoError(t, s.Set("nodelist_5", []byte{6}))
			require.NoError(t, s.Clear())
			_, ok = s.Get("nodelist_1")
			require.False(t, ok)
			_, ok = s.Get("nodelist_5")
			require.False(t, ok)
		})
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	m, err := NewMemory(2)
	require.NoError(t, err)
	require.NoError(t, m.Set("a", []byte("1")))
	require.NoError(t, m.Set("b", []byte("2")))
	_, _ = m.Get("a")
	require.NoError(t, m.Set("c", []byte("3")))

	_, ok := m.Get("b")
	require.False(t, ok, "least recently used entry must be evicted")
	_, ok = m.Get("a")
	require.True(t, ok)
}

func TestMemoryCopiesValues(t *testing.T) {
	m, err := NewMemory(0)
	require.NoError(t, err)
	buf := []byte("abc")
	require.NoError(t, m.Set("k", buf))
	buf[0] = 'x'
	v, _ := m.Get("k")
	require.Equal(t, "abc", string(v))
}

func TestLevelDBPersistsAcrossOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set("nodelist_1", []byte("blob")))
	require.NoError(t, db.Close())

	db, err = NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	v, ok := db.Get("nodelist_1")
	require.True(t, ok)
	require.Equal(t, "blob", string(v))
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Backend: "none"})
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = Open(Config{})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	s, err = Open(Config{Backend: "leveldb", Path: filepath.Join(t.TempDir(), "lv")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "leveldb"})
	require.Error(t, err)
	_, err = Open(Config{Backend: "postgres"})
	require.Error(t, err)
	_, err = Open(Config{Backend: "redis"})
	require.Error(t, err)
}
