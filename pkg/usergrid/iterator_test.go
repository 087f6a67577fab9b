// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts() QueryOptions {
	return QueryOptions{MaxAttempts: 3, RetrySleep: time.Millisecond}
}

func pageResponse(w http.ResponseWriter, cursor string, uuids ...string) {
	entities := make([]map[string]any, len(uuids))
	for i, u := range uuids {
		entities[i] = map[string]any{"uuid": u, "type": "widget"}
	}
	resp := map[string]any{"entities": entities}
	if cursor != "" {
		resp["cursor"] = cursor
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func collect(t *testing.T, it *Query) []string {
	t.Helper()
	var uuids []string
	for it.Next(context.Background()) {
		uuids = append(uuids, it.Entity().UUID())
	}
	return uuids
}

func TestQueryFollowsCursors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			pageResponse(w, "c1", "u1", "u2")
		case "c1":
			pageResponse(w, "c2", "u3")
		case "c2":
			pageResponse(w, "", "u4")
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, collect(t, it))
	require.NoError(t, it.Err())
}

func TestQuerySkipsEmptyMiddlePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			pageResponse(w, "c1", "u1")
		case "c1":
			pageResponse(w, "c2")
		case "c2":
			pageResponse(w, "", "u2")
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Equal(t, []string{"u1", "u2"}, collect(t, it))
	require.NoError(t, it.Err())
}

func TestQueryRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error":"service_unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		pageResponse(w, "", "u1")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Equal(t, []string{"u1"}, collect(t, it))
	require.NoError(t, it.Err())
	assert.Equal(t, int64(3), calls.Load())
}

func TestQueryAttemptCeiling(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Empty(t, collect(t, it))
	require.Error(t, it.Err())
	assert.Equal(t, int64(3), calls.Load(), "exactly MaxAttempts requests")
	// The iterator stays failed.
	assert.False(t, it.Next(context.Background()))
}

func TestQueryNotFoundEndsCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"organization_application_not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "nothere", ""), fastOpts())
	assert.Empty(t, collect(t, it))
	assert.NoError(t, it.Err(), "missing collection is zero entities, not an error")
}

func TestQueryEscapesCursor(t *testing.T) {
	const oddCursor = "a b+c/d=&e"
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			pageResponse(w, oddCursor, "u1")
		case oddCursor:
			served.Add(1)
			pageResponse(w, "", "u2")
		default:
			t.Errorf("cursor mangled in transit: %q", r.URL.Query().Get("cursor"))
			pageResponse(w, "")
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Equal(t, []string{"u1", "u2"}, collect(t, it))
	require.NoError(t, it.Err())
	assert.Equal(t, int64(1), served.Load())
}

func TestQueryBare404IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	assert.Empty(t, collect(t, it))
	require.Error(t, it.Err(), "a 404 without Usergrid's not-found class is not an empty collection")
}

func TestQueryContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageResponse(w, "next", "u1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	it := c.Query(c.CollectionQueryURL("o", "a", "widgets", ""), fastOpts())
	require.True(t, it.Next(ctx))
	cancel()
	for it.Next(ctx) {
	}
	require.Error(t, it.Err())
	assert.ErrorIs(t, it.Err(), context.Canceled)
}
