// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"context"
	"fmt"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// Operation selects what the run does to each entity the pipeline feeds it.
type Operation string

const (
	// OpData copies entity bodies only.
	OpData Operation = "data"
	// OpGraph copies entity bodies and replicates their edges, walking
	// the graph to the configured depth.
	OpGraph Operation = "graph"
	// OpPrune deletes target edges that no longer exist on the source.
	OpPrune Operation = "prune"
	// OpCredentials copies user password blocks via the management API.
	OpCredentials Operation = "credentials"
	// OpPermissions copies role and group permission grants.
	OpPermissions Operation = "permissions"
	// OpReput issues empty-body PUTs to force target reindexing.
	OpReput Operation = "reput"
	// OpNone iterates without writing, exercising iteration and
	// accounting only.
	OpNone Operation = "none"
)

// Valid reports whether op names a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpData, OpGraph, OpPrune, OpCredentials, OpPermissions, OpReput, OpNone:
		return true
	}
	return false
}

// ForcedCollections returns the collections an operation applies to
// regardless of the configured collection list, or nil when the
// configured list stands.
func (op Operation) ForcedCollections() []string {
	switch op {
	case OpPermissions:
		return []string{"roles", "groups"}
	case OpCredentials:
		return []string{"users"}
	}
	return nil
}

// Handler processes one entity of a collection.
type Handler func(ctx context.Context, app, collection string, ent usergrid.Entity) error

// Handler returns the per-entity procedure for op.
func (e *Engine) Handler(op Operation) Handler {
	switch op {
	case OpData:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.MigrateData(ctx, app, collection, ent)
		}
	case OpGraph:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.MigrateGraph(ctx, app, collection, ent)
		}
	case OpPrune:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.PruneGraph(ctx, app, collection, ent)
		}
	case OpCredentials:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.MigrateCredentials(ctx, app, collection, ent)
		}
	case OpPermissions:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.MigratePermissions(ctx, app, collection, ent)
		}
	case OpReput:
		return func(ctx context.Context, app, collection string, ent usergrid.Entity) error {
			return e.Reput(ctx, app, collection, ent)
		}
	case OpNone:
		return func(context.Context, string, string, usergrid.Entity) error { return nil }
	}
	// Unknown operations get a handler that fails the entity instead of a
	// nil func the pipeline would die calling.
	return func(context.Context, string, string, usergrid.Entity) error {
		return fmt.Errorf("migrator: no handler for operation %q", op)
	}
}
