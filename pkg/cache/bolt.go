// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var visitsBucket = []byte("visits")

// BoltStore is the default cache backend: a single-file bbolt database
// with one bucket. Values are stored as an 8-byte big-endian expiry
// (unix nanos, 0 for none) followed by the value bytes; expired entries
// are reaped lazily on read.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the cache file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(visitsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create visits bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func encodeValue(value string, ttl time.Duration) []byte {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(exp))
	copy(buf[8:], value)
	return buf
}

func decodeValue(raw []byte) (string, bool) {
	if len(raw) < 8 {
		return "", false
	}
	exp := int64(binary.BigEndian.Uint64(raw))
	if exp > 0 && time.Now().UnixNano() > exp {
		return "", false
	}
	return string(raw[8:]), true
}

func (s *BoltStore) Get(key string) (string, error) {
	var (
		value   string
		expired bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(visitsBucket).Get([]byte(key))
		if raw == nil {
			return ErrMiss
		}
		v, live := decodeValue(raw)
		if !live {
			expired = true
			return ErrMiss
		}
		value = v
		return nil
	})
	if expired {
		// Reap outside the read transaction.
		_ = s.Delete(key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *BoltStore) Set(key, value string, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(visitsBucket).Put([]byte(key), encodeValue(value, ttl))
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(visitsBucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
