// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-Sylos/Graph-Migrator/pkg/migrator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `{
	"org": "myorg",
	"source": {"url": "http://src.example.com", "client_id": "id", "client_secret": "sec"},
	"target": {"url": "http://dst.example.com", "client_id": "id2", "client_secret": "sec2"}
}`

func TestLoadMinimalConfig(t *testing.T) {
	rt, err := Load(writeConfig(t, minimalConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "myorg", rt.Migrator.Org)
	assert.Equal(t, migrator.OpData, rt.Operation)
	assert.Equal(t, "http://src.example.com", rt.Source.URL)
	assert.Equal(t, "http://dst.example.com", rt.Target.URL)

	// Defaults applied.
	assert.Equal(t, 3, rt.Migrator.GraphDepth)
	assert.Equal(t, 5, rt.Migrator.MaxAttempts)
	assert.Equal(t, 5*time.Second, rt.Migrator.RetrySleep)
	assert.Equal(t, 2*time.Hour, rt.Migrator.VisitTTL)
	assert.Equal(t, "bolt", rt.Cache.Backend)
	assert.NotEmpty(t, rt.Migrator.ECID, "every run gets a fresh ecid")
	assert.Equal(t, rt.Migrator.ECID, rt.Log.ECID)
}

func TestLoadWithMappingsAndTuning(t *testing.T) {
	rt, err := Load(writeConfig(t, `{
		"org": "myorg",
		"operation": "graph",
		"graph_depth": 5,
		"org_mapping": ["myorg:newborg"],
		"app_mapping": ["a:b", "c:d"],
		"retry_sleep_seconds": 0.5,
		"source": {"url": "http://src"},
		"target": {"url": "http://dst"}
	}`), nil)
	require.NoError(t, err)

	assert.Equal(t, migrator.OpGraph, rt.Operation)
	assert.Equal(t, 5, rt.Migrator.GraphDepth)
	assert.Equal(t, "newborg", rt.Migrator.TargetOrg())
	assert.Equal(t, map[string]string{"a": "b", "c": "d"}, rt.Migrator.AppMapping)
	assert.Equal(t, 500*time.Millisecond, rt.Migrator.RetrySleep)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing org", `{"source": {"url": "http://s"}, "target": {"url": "http://t"}}`},
		{"missing source url", `{"org": "o", "target": {"url": "http://t"}}`},
		{"missing target url", `{"org": "o", "source": {"url": "http://s"}}`},
		{"unknown operation", `{"org": "o", "operation": "explode",
			"source": {"url": "http://s"}, "target": {"url": "http://t"}}`},
		{"credentials without superuser", `{"org": "o", "operation": "credentials",
			"source": {"url": "http://s"}, "target": {"url": "http://t"}}`},
		{"malformed mapping", `{"org": "o", "org_mapping": ["noclolon"],
			"source": {"url": "http://s"}, "target": {"url": "http://t"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadOpNoneNeedsNoTarget(t *testing.T) {
	rt, err := Load(writeConfig(t, `{
		"org": "o", "operation": "none",
		"source": {"url": "http://s"}
	}`), nil)
	require.NoError(t, err)
	assert.Equal(t, migrator.OpNone, rt.Operation)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("UG_MIGRATOR_GRAPH_DEPTH", "7")
	rt, err := Load(writeConfig(t, minimalConfig), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, rt.Migrator.GraphDepth)
}

func TestParseMappings(t *testing.T) {
	m, err := ParseMappings([]string{"a:b", "x:y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "b", "x": "y"}, m)

	m, err = ParseMappings(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = ParseMappings([]string{"broken"})
	assert.Error(t, err)
	_, err = ParseMappings([]string{":b"})
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}
