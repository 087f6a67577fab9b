// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityFields(t *testing.T) {
	e := Entity{
		"uuid":     "abc-123",
		"type":     "widget",
		"name":     "sprocket",
		"created":  float64(1000),
		"modified": "2000",
	}
	assert.Equal(t, "abc-123", e.UUID())
	assert.Equal(t, "widget", e.Type())
	assert.Equal(t, "sprocket", e.Name())
	assert.Equal(t, int64(1000), e.Created())
	assert.Equal(t, int64(2000), e.Modified())
	assert.Equal(t, "", e.Username())
	assert.Equal(t, int64(0), e.Int64("missing"))
}

func TestEdgeNamesMapAndListForms(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		out  []string
		in   []string
	}{
		{
			name: "map form",
			meta: map[string]any{
				"collections": map[string]any{"activities": "/x"},
				"connections": map[string]any{"likes": "/y"},
				"connecting":  map[string]any{"owns": "/z"},
			},
			out: []string{"activities", "likes"},
			in:  []string{"owns"},
		},
		{
			name: "list form",
			meta: map[string]any{
				"connections": []any{"likes", "rates"},
			},
			out: []string{"likes", "rates"},
			in:  nil,
		},
		{
			name: "no metadata block",
			meta: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Entity{"uuid": "u"}
			if tc.meta != nil {
				e["metadata"] = tc.meta
			}
			assert.ElementsMatch(t, tc.out, e.OutEdgeNames())
			assert.ElementsMatch(t, tc.in, e.InEdgeNames())
		})
	}
}

func TestStripMetadata(t *testing.T) {
	e := Entity{
		"uuid":     "u1",
		"name":     "thing",
		"metadata": map[string]any{"collections": map[string]any{"a": "/a"}},
	}
	stripped := e.StripMetadata()
	require.NotContains(t, stripped, "metadata")
	assert.Equal(t, "u1", stripped.UUID())
	// Original untouched.
	assert.Contains(t, e, "metadata")
}

func TestByteSizeExcludesMetadata(t *testing.T) {
	small := Entity{"uuid": "u1", "name": "thing"}
	withMeta := Entity{"uuid": "u1", "name": "thing",
		"metadata": map[string]any{"connections": map[string]any{"likes": "/likes"}}}
	assert.Equal(t, small.ByteSize(), withMeta.ByteSize())
	assert.Positive(t, small.ByteSize())
}
