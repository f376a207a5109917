package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskStore(t *testing.T) (*DiskStore, *time.Time) {
	t.Helper()
	s, err := NewDiskStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestDiskStoreRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, now := newDiskStore(t)
	fp := Fingerprint("https://example.com/a/b?c=d", map[string]any{"width": 800})

	s.Set(ctx, fp, []byte("image-bytes"), time.Minute)
	got, ok := s.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, []byte("image-bytes"), got)

	*now = now.Add(time.Minute)
	_, ok = s.Get(ctx, fp)
	assert.False(t, ok)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expired entry should be removed on read")
}

func TestDiskStoreExpiryKeepsReplacedEntry(t *testing.T) {
	ctx := context.Background()
	s, now := newDiskStore(t)
	fp := Fingerprint("https://example.com/", map[string]any{"width": 800})

	s.Set(ctx, fp, []byte("stale"), time.Minute)
	*now = now.Add(2 * time.Minute)

	// A reader saw the stale entry; a writer replaces it before cleanup runs.
	s.Set(ctx, fp, []byte("fresh"), time.Minute)
	s.removeExpired(fp)

	got, ok := s.Get(ctx, fp)
	require.True(t, ok, "fresh entry must survive expiry cleanup")
	assert.Equal(t, []byte("fresh"), got)

	*now = now.Add(time.Minute)
	s.removeExpired(fp)
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewDiskStore(dir)
	require.NoError(t, err)
	first.Set(ctx, "fp", []byte("persisted"), time.Hour)

	second, err := NewDiskStore(dir)
	require.NoError(t, err)
	got, ok := second.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
}

func TestDiskStoreIncompleteEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	s, _ := newDiskStore(t)
	blob, _ := s.paths("fp")
	require.NoError(t, os.WriteFile(blob, []byte("partial"), 0o644))

	_, ok := s.Get(ctx, "fp")
	assert.False(t, ok)
}

func TestDiskStoreClearAndPrune(t *testing.T) {
	ctx := context.Background()
	s, now := newDiskStore(t)
	s.Set(ctx, "short", []byte("a"), time.Second)
	s.Set(ctx, "long", []byte("b"), time.Hour)
	s.Set(ctx, "forever", []byte("c"), 0)

	*now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Prune())
	_, ok := s.Get(ctx, "long")
	assert.True(t, ok)
	_, ok = s.Get(ctx, "forever")
	assert.True(t, ok)

	s.Clear(ctx)
	_, ok = s.Get(ctx, "long")
	assert.False(t, ok)
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, s.Available())
}
