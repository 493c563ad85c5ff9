// $ go test -v pkg/store/bolt/*.go

package boltstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
)

func testStore(t *testing.T) *Store {
	s := New(filepath.Join(t.TempDir(), "allocator-test.db"), "allocator-test")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("testkey", []byte("testval"), nil))
	val, err := s.Get("testkey")
	assert.NoError(t, err)
	assert.Equal(t, "testval", string(val))

	ok, err := s.Exists("testkey")
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, s.Delete("testkey"))
	_, err = s.Get("testkey")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	ok, err = s.Exists("testkey")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s := New(path, "bucket")
	require.NoError(t, s.Set("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	s = New(path, "bucket")
	defer s.Close()
	val, err := s.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "v", string(val))
}

func TestScanSkipLimit(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 20; i++ {
		s.Set(fmt.Sprintf("rules:%02d", i), []byte(fmt.Sprintf("val%d", i)), nil)
	}
	s.Set("snapshots:1", []byte("x"), nil)

	var keys []string
	err := s.Scan("rules:", 5, 10, func(key string, val []byte) {
		keys = append(keys, key)
	})
	assert.NoError(t, err)
	assert.Len(t, keys, 10)
	assert.Equal(t, "rules:05", keys[0])
	assert.Equal(t, "rules:14", keys[9])

	assert.Equal(t, 20, s.Count("rules:"))
	assert.Equal(t, 21, s.Count(""))

	assert.NoError(t, s.DeleteAll("rules:"))
	assert.Equal(t, 0, s.Count("rules:"))
	assert.Equal(t, 1, s.Count("snapshots:"))
}
