package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.cache")
	cache := NewCache(path, zerolog.Nop())

	require.NoError(t, cache.Save([]string{"AAA", "BBB", "CCC"}))

	symbols, savedAt := cache.Load()
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, symbols)
	assert.False(t, savedAt.IsZero())
}

func TestCache_MissingFileIsEmpty(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "nope.cache"), zerolog.Nop())

	symbols, savedAt := cache.Load()
	assert.Nil(t, symbols)
	assert.True(t, savedAt.IsZero())
}

func TestCache_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.cache")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0644))

	cache := NewCache(path, zerolog.Nop())
	symbols, savedAt := cache.Load()
	assert.Nil(t, symbols)
	assert.True(t, savedAt.IsZero())
}

func TestCache_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.cache")
	cache := NewCache(path, zerolog.Nop())

	require.NoError(t, cache.Save([]string{"OLD"}))
	require.NoError(t, cache.Save([]string{"NEW1", "NEW2"}))

	symbols, _ := cache.Load()
	assert.Equal(t, []string{"NEW1", "NEW2"}, symbols)
}
