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

	"github.com/Project-Sylos/Graph-Migrator/pkg/cache"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// Engine runs migration operations against a source and a target
// endpoint. It is stateless apart from the shared visited cache, so one
// engine serves all workers concurrently.
type Engine struct {
	cfg    Config
	source *usergrid.Client
	target *usergrid.Client
	cache  *cache.Cache
	log    *zap.Logger
	audit  *zap.Logger
}

// New builds an engine. Nil loggers are replaced with no-ops.
func New(cfg Config, source, target *usergrid.Client, c *cache.Cache, log, audit *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if audit == nil {
		audit = zap.NewNop()
	}
	if c == nil {
		c = cache.NewWithStore(nil, log)
	}
	return &Engine{cfg: cfg, source: source, target: target, cache: c, log: log, audit: audit}
}

// Config returns the engine's run configuration.
func (e *Engine) Config() Config { return e.cfg }

// Cache keys. The v4 prefix versions the key scheme so a scheme change
// invalidates old marks instead of misreading them.
func graphVisitKey(uuid string) string { return "v4:graph:" + uuid }
func pruneVisitKey(uuid string) string { return "v4:prune:" + uuid }
func outEdgeKey(uuid, edge string) string {
	return "v4:edge:out:" + uuid + ":" + edge
}
func inEdgeKey(uuid, edge string) string {
	return "v4:edges:in:" + uuid + ":" + edge
}

// backoff is the standard bounded-retry policy for writes.
func (e *Engine) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), retry.NewConstant(e.cfg.RetrySleep))
}

// MigrateGraph migrates an entity and walks its edges to the configured
// depth: data first, then outbound edges (with connection creation), then
// inbound edges. Failures on one branch are reported but do not stop the
// remaining branches; the returned error aggregates the failure count.
func (e *Engine) MigrateGraph(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	return e.migrateGraph(ctx, app, collection, ent, 0)
}

func (e *Engine) migrateGraph(ctx context.Context, app, collection string, ent usergrid.Entity, depth int) error {
	depth++
	if depth > e.cfg.GraphDepth {
		return nil
	}
	if e.cfg.ExcludeCollection(collection) {
		return nil
	}
	uuid := ent.UUID()
	if _, visited := e.cache.Get(graphVisitKey(uuid)); visited {
		return nil
	}
	// Mark before the walk: concurrent workers reaching the same node do
	// the work at most once plus in-flight overlap.
	e.cache.SetInt64(graphVisitKey(uuid), time.Now().UnixMilli(), e.cfg.VisitTTL)

	failed := 0
	if err := e.MigrateData(ctx, app, collection, ent); err != nil {
		failed++
		e.log.Error("graph: data migration failed",
			zap.String("app", app), zap.String("collection", collection),
			zap.String("uuid", uuid), zap.Error(err))
	}
	for _, edge := range ent.OutEdgeNames() {
		if !e.cfg.IncludeEdge(collection, edge) {
			continue
		}
		if err := e.migrateOutEdge(ctx, app, collection, ent, edge, depth); err != nil {
			failed++
			e.log.Error("graph: outbound edge failed",
				zap.String("uuid", uuid), zap.String("edge", edge), zap.Error(err))
		}
		if e.cfg.PruneInline {
			if err := e.pruneEdge(ctx, app, collection, ent, edge); err != nil {
				failed++
				e.log.Error("graph: inline prune failed",
					zap.String("uuid", uuid), zap.String("edge", edge), zap.Error(err))
			}
		}
	}
	for _, edge := range ent.InEdgeNames() {
		if !e.cfg.IncludeEdge(collection, edge) {
			continue
		}
		if err := e.migrateInEdge(ctx, app, collection, ent, edge, depth); err != nil {
			failed++
			e.log.Error("graph: inbound edge failed",
				zap.String("uuid", uuid), zap.String("edge", edge), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("graph migration of %s/%s/%s: %d branch(es) failed", app, collection, uuid, failed)
	}
	return nil
}

// migrateOutEdge replicates one outbound edge: migrate every target
// entity deeper into the graph, then create the connections on the
// target system. The edge visit mark dedups across workers and re-runs.
func (e *Engine) migrateOutEdge(ctx context.Context, app, collection string, ent usergrid.Entity, edge string, depth int) error {
	key := outEdgeKey(ent.UUID(), edge)
	if _, visited := e.cache.Get(key); visited {
		return nil
	}
	e.cache.SetInt64(key, time.Now().UnixMilli(), e.cfg.VisitTTL)

	listURL := e.source.ConnectionListURL(e.cfg.Org, app, collection, ent.UUID(), edge)
	it := e.source.Query(listURL, e.queryOptions())

	failed := 0
	var targets []usergrid.Entity
	for it.Next(ctx) {
		target := it.Entity()
		targets = append(targets, target)
		if err := e.migrateGraph(ctx, app, target.Type(), target, depth); err != nil {
			failed++
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("list edge %s of %s: %w", edge, ent.UUID(), err)
	}
	for _, target := range targets {
		if e.cfg.ExcludeCollection(target.Type()) {
			continue
		}
		if err := e.createConnection(ctx, app, ent, edge, target); err != nil {
			failed++
			e.log.Error("create connection failed",
				zap.String("source", ent.UUID()), zap.String("edge", edge),
				zap.String("target", target.UUID()), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("edge %s of %s: %d failure(s)", edge, ent.UUID(), failed)
	}
	return nil
}

// migrateInEdge walks one inbound edge: the entities pointing at this one
// are themselves graph-migrated, which recreates their outbound edges,
// this one included.
func (e *Engine) migrateInEdge(ctx context.Context, app, collection string, ent usergrid.Entity, edge string, depth int) error {
	key := inEdgeKey(ent.UUID(), edge)
	if _, visited := e.cache.Get(key); visited {
		return nil
	}
	e.cache.SetInt64(key, time.Now().UnixMilli(), e.cfg.VisitTTL)

	listURL := e.source.ConnectingListURL(e.cfg.Org, app, collection, ent.UUID(), edge)
	it := e.source.Query(listURL, e.queryOptions())

	failed := 0
	for it.Next(ctx) {
		src := it.Entity()
		if e.cfg.ExcludeCollection(src.Type()) {
			continue
		}
		if err := e.migrateGraph(ctx, app, src.Type(), src, depth); err != nil {
			failed++
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("list connecting %s of %s: %w", edge, ent.UUID(), err)
	}
	if failed > 0 {
		return fmt.Errorf("connecting edge %s of %s: %d failure(s)", edge, ent.UUID(), failed)
	}
	return nil
}

// createConnection writes one edge instance on the target system. Created
// edges are cached by their target path, so re-runs skip the POST.
func (e *Engine) createConnection(ctx context.Context, app string, source usergrid.Entity, edge string, target usergrid.Entity) error {
	torg, tapp, _ := e.cfg.TargetMapping(app, "")
	srcRef := connectionSourceRef(source)
	tgtRef := connectionTargetRef(edge, target)
	path := usergrid.ConnectionPath(torg, tapp, srcRef, edge, tgtRef)

	if _, done := e.cache.Get("v4:conn:" + path); done {
		return nil
	}
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		err := e.target.PostConnection(ctx, torg, tapp, srcRef, edge, tgtRef)
		if err == nil {
			return nil
		}
		var se *usergrid.StatusError
		if errors.As(err, &se) {
			switch {
			case se.Transient():
				return retry.RetryableError(err)
			case se.Code == 401 || se.Code == 404:
				// One endpoint is missing on the target. Re-migrate both
				// ends and retry the edge.
				if e.cfg.RepairData {
					e.repairConnectionEndpoints(ctx, app, source, target)
					return retry.RetryableError(err)
				}
				return err
			default:
				return err
			}
		}
		// Transport error.
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("post connection %s: %w", path, err)
	}
	e.cache.Set("v4:conn:"+path, "1", 0)
	return nil
}

// repairConnectionEndpoints force-migrates both ends of a failed edge.
func (e *Engine) repairConnectionEndpoints(ctx context.Context, app string, source, target usergrid.Entity) {
	if err := e.migrateData(ctx, app, source.Type(), source, true); err != nil {
		e.log.Error("repair: source endpoint re-migration failed",
			zap.String("uuid", source.UUID()), zap.Error(err))
	}
	if err := e.migrateData(ctx, app, target.Type(), target, true); err != nil {
		e.log.Error("repair: target endpoint re-migration failed",
			zap.String("uuid", target.UUID()), zap.Error(err))
	}
}

// connectionSourceRef addresses the source end of an edge: users by
// username (names survive uuid-changing repairs), everything else by
// type and uuid.
func connectionSourceRef(ent usergrid.Entity) string {
	if sameCollection(ent.Type(), "users") && ent.Username() != "" {
		return "users/" + ent.Username()
	}
	return ent.Type() + "/" + ent.UUID()
}

// connectionTargetRef addresses the target end. When the edge name
// already names the target's collection (a "users" edge pointing at a
// user) the API expects a bare uuid; qualifying it again would nest the
// path. Users, devices, and receipts are the types Usergrid treats this
// way.
func connectionTargetRef(edge string, ent usergrid.Entity) string {
	t := ent.Type()
	for _, special := range []string{"users", "devices", "receipts"} {
		if !sameCollection(t, special) {
			continue
		}
		if sameCollection(edge, special) {
			return ent.UUID()
		}
		return special + "/" + ent.UUID()
	}
	return t + "/" + ent.UUID()
}

// SourceApps resolves the applications in scope: the configured list (or
// the org's full listing when none is configured) plus any force-included
// apps the management listing may be missing.
func (e *Engine) SourceApps(ctx context.Context) ([]string, error) {
	apps := e.cfg.Apps
	if len(apps) == 0 {
		listing, err := e.source.ListOrgApps(ctx, e.cfg.Org)
		if err != nil {
			return nil, fmt.Errorf("list apps of org %s: %w", e.cfg.Org, err)
		}
		for name := range listing {
			apps = append(apps, name)
		}
	}
	for _, forced := range e.cfg.ForceApps {
		if !containsFold(apps, forced) {
			apps = append(apps, forced)
		}
	}
	return apps, nil
}

// SourceCollections resolves the collections in scope for one app.
func (e *Engine) SourceCollections(ctx context.Context, app string, op Operation) ([]string, error) {
	if forced := op.ForcedCollections(); forced != nil {
		return forced, nil
	}
	names := e.cfg.Collections
	if len(names) == 0 {
		listed, err := e.source.ListAppCollections(ctx, e.cfg.Org, app)
		if err != nil {
			return nil, fmt.Errorf("list collections of %s/%s: %w", e.cfg.Org, app, err)
		}
		names = listed
	}
	var out []string
	for _, name := range names {
		if !e.cfg.ExcludeCollection(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// EnsureTargetApps creates missing target applications. An app that
// already exists is not an error.
func (e *Engine) EnsureTargetApps(ctx context.Context, apps []string) error {
	torg := e.cfg.TargetOrg()
	existing, err := e.target.ListOrgApps(ctx, torg)
	if err != nil {
		return fmt.Errorf("list target apps of org %s: %w", torg, err)
	}
	for _, app := range apps {
		_, tapp, _ := e.cfg.TargetMapping(app, "")
		if _, ok := existing[tapp]; ok {
			continue
		}
		if err := e.target.CreateApp(ctx, torg, tapp); err != nil {
			var se *usergrid.StatusError
			if errors.As(err, &se) && se.Code == 400 {
				// Raced with another run or the listing lagged.
				continue
			}
			return fmt.Errorf("create target app %s/%s: %w", torg, tapp, err)
		}
		e.log.Info("created target app", zap.String("org", torg), zap.String("app", tapp))
	}
	return nil
}

func (e *Engine) queryOptions() usergrid.QueryOptions {
	return usergrid.QueryOptions{
		MaxAttempts: e.cfg.MaxAttempts,
		RetrySleep:  e.cfg.RetrySleep,
		PageDelay:   e.cfg.PageSleep,
	}
}
