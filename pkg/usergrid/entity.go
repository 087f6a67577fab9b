// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package usergrid is a minimal client for the Usergrid BaaS REST API:
// schemaless entities, cursor-paged collection queries, and the graph
// (connection) sub-resource. Only the surface the migrator needs is covered.
package usergrid

import (
	"encoding/json"
	"strconv"
)

// Entity is a Usergrid entity as returned by the API: an open JSON object
// with a handful of well-known fields (uuid, type, created, modified) and
// a server-maintained "metadata" block describing its graph edges.
type Entity map[string]any

// String returns the string value of a top-level field, or "" when the
// field is absent or not a string.
func (e Entity) String(field string) string {
	s, _ := e[field].(string)
	return s
}

// UUID returns the entity's canonical identifier.
func (e Entity) UUID() string { return e.String("uuid") }

// Type returns the entity's type, e.g. "user" for members of the users
// collection. Usergrid reports the singular form.
func (e Entity) Type() string { return e.String("type") }

// Name returns the entity's "name" property when present.
func (e Entity) Name() string { return e.String("name") }

// Username returns the entity's "username" property when present. Only
// user entities carry one.
func (e Entity) Username() string { return e.String("username") }

// Created returns the creation timestamp in epoch milliseconds, or 0.
func (e Entity) Created() int64 { return e.Int64("created") }

// Modified returns the last-modified timestamp in epoch milliseconds, or 0.
func (e Entity) Modified() int64 { return e.Int64("modified") }

// Int64 reads a numeric field. Values arrive as float64 from encoding/json
// but string-encoded numbers show up in older exports, so both are handled.
func (e Entity) Int64(field string) int64 {
	switch v := e[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Metadata returns the server-maintained metadata block, or nil.
func (e Entity) Metadata() map[string]any {
	m, _ := e["metadata"].(map[string]any)
	return m
}

// OutEdgeNames returns the names of the entity's outbound edges: the
// owned sub-collections plus the user-created connections, as recorded
// under metadata.collections and metadata.connections.
func (e Entity) OutEdgeNames() []string {
	md := e.Metadata()
	if md == nil {
		return nil
	}
	var names []string
	names = append(names, edgeNames(md["collections"])...)
	names = append(names, edgeNames(md["connections"])...)
	return names
}

// InEdgeNames returns the names of the entity's inbound edges, as
// recorded under metadata.connecting.
func (e Entity) InEdgeNames() []string {
	md := e.Metadata()
	if md == nil {
		return nil
	}
	return edgeNames(md["connecting"])
}

// edgeNames accepts either the map form ({"likes": "/path"}) or the list
// form (["likes"]) that different Usergrid versions emit.
func edgeNames(v any) []string {
	switch t := v.(type) {
	case map[string]any:
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		return names
	case []any:
		names := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

// StripMetadata returns a shallow copy of the entity without the
// server-maintained metadata block. The copy is what gets written to the
// target system; metadata is regenerated there.
func (e Entity) StripMetadata() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		if k == "metadata" {
			continue
		}
		out[k] = v
	}
	return out
}

// ByteSize reports the serialized size of the entity after metadata
// stripping. Used for transfer accounting, not for exact wire sizes.
func (e Entity) ByteSize() int {
	b, err := json.Marshal(e.StripMetadata())
	if err != nil {
		return 0
	}
	return len(b)
}
