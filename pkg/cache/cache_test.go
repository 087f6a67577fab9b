// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openBoltCache(t *testing.T) *Cache {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewWithStore(store, zap.NewNop())
}

func TestSetGetDelete(t *testing.T) {
	c := openBoltCache(t)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", "v", 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := openBoltCache(t)

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("forever", "v", 0)

	_, ok := c.Get("short")
	assert.True(t, ok, "fresh entry is live")

	time.Sleep(25 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok, "expired entry reads as miss")
	_, ok = c.Get("forever")
	assert.True(t, ok, "zero ttl never expires")
}

func TestGetInt64(t *testing.T) {
	c := openBoltCache(t)

	c.SetInt64("ts", 12345, 0)
	n, ok := c.GetInt64("ts")
	require.True(t, ok)
	assert.Equal(t, int64(12345), n)

	c.Set("bad", "not-a-number", 0)
	_, ok = c.GetInt64("bad")
	assert.False(t, ok)
}

func TestSkipFlags(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	skipRead := &Cache{store: store, skipRead: true, log: zap.NewNop()}
	skipRead.Set("k", "v", 0)
	_, ok := skipRead.Get("k")
	assert.False(t, ok, "reads disabled")
	assert.False(t, skipRead.Enabled())

	skipWrite := &Cache{store: store, skipWrite: true, log: zap.NewNop()}
	skipWrite.Set("k2", "v", 0)
	_, ok = skipWrite.Get("k2")
	assert.False(t, ok, "write was dropped")
	_, ok = skipWrite.Get("k")
	assert.True(t, ok, "reads still live")
}

func TestOpenDegradedWhenBackendUnavailable(t *testing.T) {
	// A directory is not a valid bolt file path.
	c := Open(Config{Backend: "bolt", Path: t.TempDir()}, zap.NewNop())
	assert.False(t, c.Enabled())
	// Degraded cache is inert but safe.
	c.Set("k", "v", 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestOpenNoneBackend(t *testing.T) {
	c := Open(Config{Backend: "none"}, zap.NewNop())
	assert.False(t, c.Enabled())
	c.Set("k", "v", 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("k", "v", 0))
	require.NoError(t, store.Close())

	store, err = OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
