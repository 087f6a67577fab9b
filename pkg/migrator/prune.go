// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// PruneGraph removes target edges the source no longer has, for every
// outbound edge of the entity. The inverse of graph migration: it never
// touches entity bodies.
func (e *Engine) PruneGraph(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	if e.cfg.ExcludeCollection(collection) {
		return nil
	}
	key := pruneVisitKey(ent.UUID())
	if _, visited := e.cache.Get(key); visited {
		return nil
	}
	e.cache.SetInt64(key, time.Now().UnixMilli(), e.cfg.VisitTTL)

	failed := 0
	for _, edge := range ent.OutEdgeNames() {
		if !e.cfg.IncludeEdge(collection, edge) {
			continue
		}
		if err := e.pruneEdge(ctx, app, collection, ent, edge); err != nil {
			failed++
			e.log.Error("prune edge failed",
				zap.String("uuid", ent.UUID()), zap.String("edge", edge), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("prune %s/%s/%s: %d edge(s) failed", app, collection, ent.UUID(), failed)
	}
	return nil
}

// pruneEdge deletes the target-side edge instances whose far end is not
// present on the source side of the same edge: the set difference of
// target uuids minus source uuids.
func (e *Engine) pruneEdge(ctx context.Context, app, collection string, ent usergrid.Entity, edge string) error {
	torg, tapp, tcoll := e.cfg.TargetMapping(app, collection)

	sourceSet, err := e.edgeTargetSet(ctx, e.source,
		e.source.ConnectionListURL(e.cfg.Org, app, collection, ent.UUID(), edge))
	if err != nil {
		return fmt.Errorf("list source edge %s: %w", edge, err)
	}
	targetSet, err := e.edgeTargetSet(ctx, e.target,
		e.target.ConnectionListURL(torg, tapp, tcoll, ent.UUID(), edge))
	if err != nil {
		return fmt.Errorf("list target edge %s: %w", edge, err)
	}

	failed := 0
	for uuid, tgt := range targetSet {
		if _, keep := sourceSet[uuid]; keep {
			continue
		}
		if err := e.deleteConnection(ctx, torg, tapp, ent, edge, tgt); err != nil {
			failed++
			e.log.Error("delete stale connection failed",
				zap.String("source", ent.UUID()), zap.String("edge", edge),
				zap.String("target", uuid), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("edge %s: %d stale connection(s) not deleted", edge, failed)
	}
	return nil
}

// edgeTargetSet collects the uuids on the far side of one edge.
func (e *Engine) edgeTargetSet(ctx context.Context, client *usergrid.Client, listURL string) (map[string]usergrid.Entity, error) {
	set := make(map[string]usergrid.Entity)
	it := client.Query(listURL, e.queryOptions())
	for it.Next(ctx) {
		ent := it.Entity()
		set[ent.UUID()] = ent
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// deleteConnection removes one edge instance on the target, retrying
// transient failures, and drops the created-edge cache mark so a later
// graph run can recreate the edge if the source grows it back.
func (e *Engine) deleteConnection(ctx context.Context, torg, tapp string, source usergrid.Entity, edge string, target usergrid.Entity) error {
	srcRef := connectionSourceRef(source)
	tgtRef := connectionTargetRef(edge, target)
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		err := e.target.DeleteConnection(ctx, torg, tapp, srcRef, edge, tgtRef)
		if err == nil || errors.Is(err, usergrid.ErrNotFound) {
			return nil
		}
		var se *usergrid.StatusError
		if errors.As(err, &se) && !se.Transient() {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return err
	}
	e.cache.Delete("v4:conn:" + usergrid.ConnectionPath(torg, tapp, srcRef, edge, tgtRef))
	return nil
}
