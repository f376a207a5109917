package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// diskMeta is the sidecar written next to each cached image.
type diskMeta struct {
	Fingerprint string    `json:"fingerprint"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// DiskStore keeps entries as files under one directory so they survive
// restarts without a cache server. Each entry is an image blob plus a JSON
// sidecar; the sidecar is written last and marks the entry complete.
type DiskStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewDiskStore creates a DiskStore and ensures the directory exists.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk cache: mkdir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

// paths maps a fingerprint to file names; fingerprints are base64 and may
// contain '/', so they are hashed first.
func (s *DiskStore) paths(fingerprint string) (blob, meta string) {
	sum := sha256.Sum256([]byte(fingerprint))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name+".img"), filepath.Join(s.dir, name+".json")
}

func (s *DiskStore) Get(_ context.Context, fingerprint string) ([]byte, bool) {
	blobPath, metaPath := s.paths(fingerprint)

	s.mu.RLock()
	meta, err := readMeta(metaPath)
	if err != nil {
		s.mu.RUnlock()
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("disk cache meta read failed", "path", metaPath, "error", err)
		}
		return nil, false
	}
	if meta.Fingerprint != fingerprint {
		s.mu.RUnlock()
		return nil, false
	}
	if meta.expired(s.now()) {
		s.mu.RUnlock()
		s.removeExpired(fingerprint)
		return nil, false
	}
	data, err := os.ReadFile(blobPath)
	s.mu.RUnlock()
	if err != nil {
		slog.Debug("disk cache image read failed", "path", blobPath, "error", err)
		return nil, false
	}
	return data, true
}

func (s *DiskStore) Set(_ context.Context, fingerprint string, data []byte, ttl time.Duration) {
	blobPath, metaPath := s.paths(fingerprint)
	now := s.now()
	meta := diskMeta{Fingerprint: fingerprint, SizeBytes: len(data), CreatedAt: now}
	if ttl > 0 {
		meta.ExpiresAt = now.Add(ttl)
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		slog.Warn("disk cache marshal meta failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Drop the old sidecar first so a reader never pairs it with a half-written blob.
	_ = os.Remove(metaPath)
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		slog.Warn("disk cache write image failed", "path", blobPath, "error", err)
		return
	}
	if err := os.WriteFile(metaPath, encoded, 0o644); err != nil {
		_ = os.Remove(blobPath)
		slog.Warn("disk cache write meta failed", "path", metaPath, "error", err)
	}
}

// removeExpired deletes the entry only if it is still expired under the write
// lock; a Set that landed after the read lock was released is kept.
func (s *DiskStore) removeExpired(fingerprint string) {
	blobPath, metaPath := s.paths(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := readMeta(metaPath)
	if err != nil || meta.Fingerprint != fingerprint || !meta.expired(s.now()) {
		return
	}
	for _, p := range []string{metaPath, blobPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("disk cache cleanup failed", "path", p, "error", err)
		}
	}
}

// Clear removes every entry file in the cache directory.
func (s *DiskStore) Clear(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pattern := range []string{"*.json", "*.img"} {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			slog.Warn("disk cache glob failed", "pattern", pattern, "error", err)
			continue
		}
		for _, p := range matches {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Debug("disk cache cleanup failed", "path", p, "error", err)
			}
		}
	}
}

// Prune deletes expired entries and returns how many were removed.
func (s *DiskStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0
	}
	now := s.now()
	removed := 0
	for _, metaPath := range matches {
		meta, err := readMeta(metaPath)
		if err != nil || !meta.expired(now) {
			continue
		}
		_ = os.Remove(metaPath)
		_ = os.Remove(metaPath[:len(metaPath)-len(".json")] + ".img")
		removed++
	}
	return removed
}

func (s *DiskStore) Available() bool { return true }

func (s *DiskStore) Close() error { return nil }

func (m diskMeta) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

func readMeta(path string) (diskMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return diskMeta{}, err
	}
	var meta diskMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return diskMeta{}, fmt.Errorf("disk cache: unmarshal meta: %w", err)
	}
	return meta, nil
}
