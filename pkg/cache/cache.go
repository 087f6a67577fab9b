// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package cache is the shared visited-state store that lets concurrent
// workers and re-runs of the migrator skip already-processed entities and
// edges. Entries carry a TTL so long-running migrations eventually revisit.
//
// The cache is strictly an optimization: every failure mode degrades to
// "not cached", which costs duplicate work but never correctness.
package cache

import (
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrMiss is returned by stores when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a TTL key-value backend.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "bolt", "badger", or "none".
	Backend string `koanf:"backend"`
	// Path is the backend's on-disk location.
	Path string `koanf:"path"`
	// SkipRead disables cache reads: every lookup misses.
	SkipRead bool `koanf:"skip_read"`
	// SkipWrite disables cache writes.
	SkipWrite bool `koanf:"skip_write"`
}

// Cache wraps a Store with read/write gating and degraded-mode handling.
// Backend errors are logged and swallowed: a Get error is a miss, a Set
// error is a no-op.
type Cache struct {
	store     Store
	skipRead  bool
	skipWrite bool
	log       *zap.Logger
}

// Open builds a cache per the config. When the backend cannot be opened
// the migrator still runs, with both reads and writes disabled.
func Open(cfg Config, log *zap.Logger) *Cache {
	c := &Cache{skipRead: cfg.SkipRead, skipWrite: cfg.SkipWrite, log: log}
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "bolt":
		store, err = OpenBolt(cfg.Path)
	case "badger":
		store, err = OpenBadger(cfg.Path)
	case "none":
		c.skipRead = true
		c.skipWrite = true
		return c
	default:
		err = errors.New("cache: unknown backend " + cfg.Backend)
	}
	if err != nil {
		log.Warn("cache unavailable, continuing without visited-state dedup",
			zap.String("backend", cfg.Backend), zap.Error(err))
		c.skipRead = true
		c.skipWrite = true
		return c
	}
	c.store = store
	return c
}

// NewWithStore wraps an already-open store. Used by tests and by callers
// that manage the backend lifecycle themselves.
func NewWithStore(store Store, log *zap.Logger) *Cache {
	return &Cache{store: store, log: log}
}

// Get returns the cached value and whether the key was present.
func (c *Cache) Get(key string) (string, bool) {
	if c.skipRead || c.store == nil {
		return "", false
	}
	v, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// GetInt64 reads a key holding a decimal integer, typically a timestamp.
func (c *Cache) GetInt64(key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set stores a value. ttl <= 0 means no expiry.
func (c *Cache) Set(key, value string, ttl time.Duration) {
	if c.skipWrite || c.store == nil {
		return
	}
	if err := c.store.Set(key, value, ttl); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// SetInt64 stores a decimal integer value.
func (c *Cache) SetInt64(key string, n int64, ttl time.Duration) {
	c.Set(key, strconv.FormatInt(n, 10), ttl)
}

// Delete removes a key. Missing keys are not an error.
func (c *Cache) Delete(key string) {
	if c.skipWrite || c.store == nil {
		return
	}
	if err := c.store.Delete(key); err != nil {
		c.log.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Enabled reports whether at least cache reads are live.
func (c *Cache) Enabled() bool { return c.store != nil && !c.skipRead }

// Close releases the backend.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
