package bytecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSampleFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "main.etcx")
	require.NoError(t, Save(path, sampleProgram()))
	return path
}

func TestCachePathIsContentAddressed(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleFile(t, dir)

	cp1, err := CachePath(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, cacheDirName), filepath.Dir(cp1))

	cp2, err := CachePath(path)
	require.NoError(t, err)
	assert.Equal(t, cp1, cp2, "hashing the same bytes twice must yield the same cache path")

	// Changing the file's bytes changes the cache key.
	prog := sampleProgram()
	prog.EntryPoint = 3
	require.NoError(t, Save(path, prog))
	cp3, err := CachePath(path)
	require.NoError(t, err)
	assert.NotEqual(t, cp1, cp3)
}

func TestLoadCachedWritesAndReusesCacheEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleFile(t, dir)

	cachePath, err := CachePath(path)
	require.NoError(t, err)
	_, statErr := os.Stat(cachePath)
	require.True(t, os.IsNotExist(statErr), "cache entry should not exist before the first load")

	prog, err := LoadCached(path, false)
	require.NoError(t, err)
	assert.Equal(t, sampleProgram().Instructions, prog.Instructions)

	_, statErr = os.Stat(cachePath)
	require.NoError(t, statErr, "LoadCached should have written a cache entry")

	// While the source bytes are unchanged, LoadCached reads the cache entry
	// rather than re-decoding the source: overwrite the entry with a
	// different program and check that its contents come back.
	cached := sampleProgram()
	cached.EntryPoint = 3
	require.NoError(t, Save(cachePath, cached))
	prog2, err := LoadCached(path, false)
	require.NoError(t, err)
	assert.Equal(t, cached.EntryPoint, prog2.EntryPoint)
}

func TestLoadCachedForceBypassesCache(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleFile(t, dir)

	_, err := LoadCached(path, false)
	require.NoError(t, err)

	// force=true skips the cache entirely and re-reads path directly, so a
	// corrupted source file surfaces its decode error.
	require.NoError(t, os.WriteFile(path, []byte("not an etcx file"), 0o644))
	_, err = LoadCached(path, true)
	assert.Error(t, err)
}
