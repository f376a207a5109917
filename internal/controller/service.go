package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/cache"
	"github.com/dgnsrekt/pagesnap/internal/capture"
	"github.com/dgnsrekt/pagesnap/internal/imaging"
	"github.com/dgnsrekt/pagesnap/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Renderer produces raw captures for normalized requests.
type Renderer interface {
	Render(ctx context.Context, req capture.Request) ([]byte, error)
}

// Processor encodes raw captures and inspects cached output.
type Processor interface {
	Process(raw []byte, req capture.Request) (*capture.Result, error)
	Inspect(data []byte) (imaging.Metadata, error)
}

// Options tunes the Service.
type Options struct {
	// TTL is applied to every cache write. Defaults to cache.DefaultTTL.
	TTL time.Duration
	// DedupeInflight shares one render between concurrent identical misses.
	DedupeInflight bool
}

// ClearResult reports the outcome of ClearCache.
type ClearResult struct {
	Cleared bool
	Reason  string
}

// Service answers capture requests from the cache or by rendering.
type Service struct {
	store    cache.Store
	renderer Renderer
	pipeline Processor
	ttl      time.Duration
	flights  *singleflight.Group
}

func NewService(store cache.Store, renderer Renderer, pipeline Processor, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	s := &Service{store: store, renderer: renderer, pipeline: pipeline, ttl: opts.TTL}
	if opts.DedupeInflight {
		s.flights = &singleflight.Group{}
	}
	return s
}

// Capture returns the image for req. Validation fails before any cache or
// browser access; render and encode failures are never cached.
func (s *Service) Capture(ctx context.Context, req capture.Request) (*capture.Result, error) {
	res, err := s.capture(ctx, req)
	var coded *capture.CodedError
	switch {
	case err == nil:
		metrics.RecordCapture("")
	case errors.As(err, &coded):
		metrics.RecordCapture(coded.Code)
	default:
		metrics.RecordCapture("UNKNOWN")
	}
	return res, err
}

func (s *Service) capture(ctx context.Context, req capture.Request) (*capture.Result, error) {
	norm, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	fp := cache.Fingerprint(norm.URL, norm.CacheOptions())

	if res, ok := s.lookup(ctx, fp, norm); ok {
		return res, nil
	}
	if s.flights == nil {
		return s.produce(ctx, fp, norm)
	}

	v, err, shared := s.flights.Do(fp, func() (any, error) {
		return s.produce(context.WithoutCancel(ctx), fp, norm)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*capture.Result)
	if shared {
		slog.Debug("capture shared with in-flight request", "url", norm.URL)
	}
	return &res, nil
}

func (s *Service) lookup(ctx context.Context, fp string, req capture.Request) (*capture.Result, bool) {
	data, ok := s.store.Get(ctx, fp)
	if !ok {
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	meta, err := s.pipeline.Inspect(data)
	if err != nil {
		slog.Warn("discarding unreadable cache entry", "url", req.URL, "error", err)
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	slog.Debug("cache hit", "url", req.URL, "bytes", len(data))
	return &capture.Result{
		Data:   data,
		Format: req.Format,
		Size:   len(data),
		Width:  meta.Width,
		Height: meta.Height,
		Cached: true,
	}, true
}

func (s *Service) produce(ctx context.Context, fp string, req capture.Request) (*capture.Result, error) {
	begin := time.Now()
	raw, err := s.renderer.Render(ctx, req)
	metrics.ObserveStage("render", begin)
	if err != nil {
		slog.Warn("capture failed", "url", req.URL, "error", err)
		return nil, err
	}

	started := time.Now()
	res, err := s.pipeline.Process(raw, req)
	metrics.ObserveStage("encode", started)
	if err != nil {
		slog.Warn("post-processing failed", "url", req.URL, "error", err)
		return nil, err
	}

	s.store.Set(ctx, fp, res.Data, s.ttl)
	slog.Info("screenshot captured",
		"url", req.URL, "format", res.Format, "bytes", res.Size,
		"width", res.Width, "height", res.Height,
		"duration_ms", time.Since(begin).Milliseconds())
	return res, nil
}

// ClearCache empties the store when it is reachable.
func (s *Service) ClearCache(ctx context.Context) ClearResult {
	if !s.store.Available() {
		return ClearResult{Reason: "cache service not available"}
	}
	s.store.Clear(ctx)
	return ClearResult{Cleared: true}
}

// CacheAvailable reports whether the cache backend is currently reachable.
func (s *Service) CacheAvailable() bool {
	return s.store.Available()
}
