// Package cache stores encoded screenshots by request fingerprint.
//
// Every Store is a soft dependency: lookups that fail for any reason are
// misses and writes that fail are dropped, so callers never branch on
// backend errors.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultPrefix = "screenshot"
	DefaultTTL    = time.Hour
)

// Store maps fingerprints to immutable blobs with a write-time TTL.
type Store interface {
	// Get returns the blob and true on a hit.
	Get(ctx context.Context, fingerprint string) ([]byte, bool)
	Set(ctx context.Context, fingerprint string, data []byte, ttl time.Duration)
	// Clear removes every entry in the store's namespace.
	Clear(ctx context.Context)
	// Available reports current backend connectivity.
	Available() bool
	Close() error
}

// Fingerprint derives the cache key for url and its normalized options.
// Option keys are serialized in sorted order so map iteration order never
// changes the result.
func Fingerprint(url string, opts map[string]any) string {
	encoded, err := json.Marshal(opts)
	if err != nil {
		// fmt prints maps with sorted keys as well.
		encoded = []byte(fmt.Sprint(opts))
	}
	return base64.StdEncoding.EncodeToString(append([]byte(url), encoded...))
}

// NoopStore never holds anything. It backs deployments with caching disabled.
type NoopStore struct{}

func (NoopStore) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (NoopStore) Set(context.Context, string, []byte, time.Duration) {}
func (NoopStore) Clear(context.Context)                              {}
func (NoopStore) Available() bool                                    { return false }
func (NoopStore) Close() error                                       { return nil }
