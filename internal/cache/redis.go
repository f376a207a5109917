package cache

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateConnecting int32 = iota
	stateUp
	stateDown
	stateDisabled
)

const clearBatchSize = 500

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	URL    string
	Prefix string
	// ConnectTimeout bounds the initial connection and every command.
	ConnectTimeout time.Duration
	// ReconnectInterval paces pings after an established connection drops.
	ReconnectInterval time.Duration
	// OnAvailabilityChange is called whenever Available flips.
	OnAvailabilityChange func(available bool)
}

// RedisStore is a Store on a Redis server. The first connection attempt runs
// in the background; if it fails the store stays disabled for its lifetime.
// A connection lost later is retried until it comes back.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	notify   func(bool)

	state        atomic.Int32
	reconnecting atomic.Bool
	ready        chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// NewRedisStore parses cfg.URL and starts connecting. It only fails on an
// unparsable URL.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	opts.MaxRetries = 1
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.ConnectTimeout
	opts.WriteTimeout = cfg.ConnectTimeout

	s := &RedisStore{
		client:   redis.NewClient(opts),
		prefix:   cfg.Prefix,
		interval: cfg.ReconnectInterval,
		notify:   cfg.OnAvailabilityChange,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.client.AddHook(availabilityHook{s: s})

	go s.connect(cfg.ConnectTimeout)
	return s, nil
}

func (s *RedisStore) connect(timeout time.Duration) {
	defer close(s.ready)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.state.Store(stateDisabled)
		slog.Warn("redis cache unavailable, caching disabled", "error", err)
		_ = s.client.Close()
		return
	}
	if s.state.CompareAndSwap(stateConnecting, stateUp) {
		slog.Info("redis cache connected", "prefix", s.prefix)
		s.changed(true)
	}
}

// WaitReady blocks until the first connection attempt has finished or ctx ends.
func (s *RedisStore) WaitReady(ctx context.Context) bool {
	select {
	case <-s.ready:
	case <-ctx.Done():
	}
	return s.Available()
}

func (s *RedisStore) Available() bool {
	return s.state.Load() == stateUp
}

func (s *RedisStore) key(fingerprint string) string {
	return s.prefix + ":" + fingerprint
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	if !s.Available() {
		return nil, false
	}
	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("redis cache get failed", "error", err)
		}
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, fingerprint string, data []byte, ttl time.Duration) {
	if !s.Available() {
		return
	}
	if err := s.client.Set(ctx, s.key(fingerprint), data, ttl).Err(); err != nil {
		slog.Debug("redis cache set failed", "error", err)
	}
}

// Clear deletes every key under the store prefix in SCAN-sized batches.
func (s *RedisStore) Clear(ctx context.Context) {
	if !s.Available() {
		return
	}
	iter := s.client.Scan(ctx, 0, s.prefix+":*", clearBatchSize).Iterator()
	batch := make([]string, 0, clearBatchSize)
	deleted := 0
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			slog.Warn("redis cache clear failed", "error", err)
			return false
		}
		deleted += int(n)
		batch = batch[:0]
		return true
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatchSize && !flush() {
			return
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis cache scan failed", "error", err)
		return
	}
	if flush() {
		slog.Info("redis cache cleared", "keys", deleted)
	}
}

func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.ready
		if s.state.Swap(stateDisabled) != stateDisabled {
			err = s.client.Close()
		}
	})
	return err
}

func (s *RedisStore) changed(available bool) {
	if s.notify != nil {
		s.notify(available)
	}
}

func (s *RedisStore) markUp() {
	if s.state.CompareAndSwap(stateDown, stateUp) {
		slog.Info("redis cache reconnected")
		s.changed(true)
	}
}

func (s *RedisStore) markDown(err error) {
	if s.state.CompareAndSwap(stateUp, stateDown) {
		slog.Warn("redis cache connection lost", "error", err)
		s.changed(false)
		s.startReconnect()
	}
}

func (s *RedisStore) startReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.reconnecting.Store(false)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for s.state.Load() == stateDown {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				_ = s.client.Ping(ctx).Err()
				cancel()
			}
		}
	}()
}

// observe classifies a command outcome. Redis reply errors prove the
// connection works; transport errors mark it down.
func (s *RedisStore) observe(ctx context.Context, err error) {
	var replyErr redis.Error
	switch {
	case err == nil, errors.As(err, &replyErr):
		s.markUp()
	case ctx.Err() != nil, errors.Is(err, redis.ErrClosed):
		// caller gave up or store is shutting down
	default:
		s.markDown(err)
	}
}

type availabilityHook struct {
	s *RedisStore
}

func (h availabilityHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && ctx.Err() == nil {
			h.s.markDown(err)
		}
		return conn, err
	}
}

func (h availabilityHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.s.observe(ctx, err)
		return err
	}
}

func (h availabilityHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.s.observe(ctx, err)
		return err
	}
}
