// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError(t *testing.T) {
	se := &StatusError{
		Code: 400,
		URL:  "http://x/o/a/users/bob",
		Body: `{"error":"duplicate_unique_property_exists","error_description":"..."}`,
	}
	assert.Equal(t, "duplicate_unique_property_exists", se.ErrorCode())
	assert.False(t, se.Transient())
	assert.NotErrorIs(t, se, ErrNotFound)

	nf := &StatusError{Code: 404, Body: "{}"}
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.True(t, (&StatusError{Code: 503}).Transient())
}

func TestRedactStripsSecret(t *testing.T) {
	got := redact("http://x/o/a/users?client_id=abc&client_secret=hunter2")
	assert.NotContains(t, got, "hunter2")
	assert.Contains(t, got, "client_id=abc")
}

func TestClientAppendsCredentials(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entities": []map[string]any{{"uuid": "u1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{ClientID: "id", ClientSecret: "sec"}, ClientOptions{})
	ent, err := c.GetEntity(context.Background(), "o", "a", "widgets", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", ent.UUID())
	assert.Contains(t, gotQuery, "client_id=id")
	assert.Contains(t, gotQuery, "client_secret=sec")
}

func TestGetEntityNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"service_resource_not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	_, err := c.GetEntity(context.Background(), "o", "a", "widgets", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEntityEmptyEnvelopeIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"entities": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	_, err := c.GetEntity(context.Background(), "o", "a", "widgets", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrgAppsStripsQualifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/management/organizations/myorg/applications", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"myorg/app1": "id1", "app2": "id2"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, ClientOptions{})
	apps, err := c.ListOrgApps(context.Background(), "myorg")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app1": "id1", "app2": "id2"}, apps)
}

func TestConnectionPath(t *testing.T) {
	assert.Equal(t, "o/a/users/bob/likes/widgets/u9",
		ConnectionPath("o", "a", "users/bob", "likes", "widgets/u9"))
}
