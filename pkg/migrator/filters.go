// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import "strings"

// systemCollections never migrate: they are server-generated streams that
// the target regenerates itself.
var systemCollections = []string{"activities", "queues", "events", "notifications"}

// builtinEdgeExclusions maps a source collection to edge names that must
// not be traversed from it. These edges are implicit in Usergrid (role
// membership, follower feeds, device registrations) and are recreated by
// the target when the entities on both ends are written; traversing them
// multiplies work and can recreate stale links. Keys and edge names are
// matched in both singular and plural form.
var builtinEdgeExclusions = map[string][]string{
	"users":    {"roles", "followers", "groups", "feed", "activities"},
	"devices":  {"users", "receipts"},
	"receipts": {"devices"},
}

// IncludeCollection reports whether a collection is in scope for the run:
// on the include list when one is configured, and never "events".
func (c Config) IncludeCollection(collection string) bool {
	if strings.EqualFold(collection, "events") {
		return false
	}
	if len(c.Collections) == 0 {
		return true
	}
	return containsFold(c.Collections, collection)
}

// ExcludeCollection reports whether a collection is dropped from the run:
// system collections, the configured exclude list, and anything outside a
// configured include list.
func (c Config) ExcludeCollection(collection string) bool {
	if containsFold(systemCollections, collection) {
		return true
	}
	if containsFold(c.ExcludeCollections, collection) {
		return true
	}
	return !c.IncludeCollection(collection)
}

// IncludeEdge reports whether an edge should be traversed from entities
// of the given collection. The built-in table, the configured exclude
// list, and any configured include list all apply.
func (c Config) IncludeEdge(collection, edge string) bool {
	if len(c.IncludeEdges) > 0 && !containsFold(c.IncludeEdges, edge) {
		return false
	}
	if containsFold(c.ExcludeEdges, edge) {
		return false
	}
	return !builtinEdgeExcluded(collection, edge)
}

func builtinEdgeExcluded(collection, edge string) bool {
	for coll, edges := range builtinEdgeExclusions {
		if !sameCollection(coll, collection) {
			continue
		}
		for _, e := range edges {
			if sameCollection(e, edge) {
				return true
			}
		}
	}
	return false
}

// sameCollection matches names case-insensitively, treating singular and
// plural forms as equal ("user" == "users").
func sameCollection(a, b string) bool {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return true
	}
	return strings.TrimSuffix(a, "s") == strings.TrimSuffix(b, "s")
}
