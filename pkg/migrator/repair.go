// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// errKeepTarget reports a user conflict resolved by keeping the target's
// copy: the source entity is not written, so none of the post-write
// steps (staleness cache, credentials) may run for it.
var errKeepTarget = errors.New("migrator: conflict resolved, target copy kept")

// naturalKey returns the field that uniquely names entities of a
// collection besides the uuid.
func naturalKey(collection string) string {
	switch {
	case sameCollection(collection, "users"):
		return "username"
	case sameCollection(collection, "roles"):
		return "name"
	}
	return "uuid"
}

// repairNamedEntity resolves a unique-name collision on the target:
// delete the target's entity under that name, then re-put the
// authoritative source version. Used for roles and as the last step of
// user conflict resolution.
func (e *Engine) repairNamedEntity(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	key := naturalKey(collection)
	name := ent.String(key)
	if name == "" {
		return fmt.Errorf("repair %s/%s: entity has no %s", collection, ent.UUID(), key)
	}
	torg, tapp, tcoll := e.cfg.TargetMapping(app, collection)

	if err := e.target.DeleteEntity(ctx, torg, tapp, tcoll, name); err != nil && !errors.Is(err, usergrid.ErrNotFound) {
		return fmt.Errorf("repair %s/%s: delete target by name: %w", collection, name, err)
	}
	best := e.bestSourceEntity(ctx, app, collection, ent)
	if err := e.target.PutEntity(ctx, torg, tapp, tcoll, best.UUID(), best.StripMetadata()); err != nil {
		return fmt.Errorf("repair %s/%s: re-put: %w", collection, name, err)
	}
	e.log.Info("repaired name collision",
		zap.String("collection", collection), zap.String("name", name),
		zap.String("uuid", best.UUID()))
	return nil
}

// resolveUserConflict handles a 400 on a user write: fetch the target's
// user under the same username and compare creation times. The older
// entity wins. When the source is older the target copy is repaired away;
// when the target is older it stands and errKeepTarget is returned.
func (e *Engine) resolveUserConflict(ctx context.Context, app string, ent usergrid.Entity) error {
	username := ent.Username()
	if username == "" {
		return fmt.Errorf("user conflict on %s: entity has no username", ent.UUID())
	}
	torg, tapp, tcoll := e.cfg.TargetMapping(app, "users")

	existing, err := e.target.GetEntity(ctx, torg, tapp, tcoll, username)
	if err != nil {
		if errors.Is(err, usergrid.ErrNotFound) {
			return fmt.Errorf("user conflict on %s: no target user under name: write rejected for another reason", username)
		}
		return fmt.Errorf("user conflict on %s: fetch target: %w", username, err)
	}
	if ent.Created() < existing.Created() {
		e.log.Info("user conflict: source is older, repairing target",
			zap.String("username", username),
			zap.Int64("source_created", ent.Created()),
			zap.Int64("target_created", existing.Created()))
		return e.repairNamedEntity(ctx, app, "users", ent)
	}
	e.log.Info("user conflict: target is older, keeping target",
		zap.String("username", username))
	return errKeepTarget
}

// bestSourceEntity re-reads the authoritative source version of an entity
// by natural key. When the keyed read fails it falls back to a query over
// all entities sharing the key, picking the earliest-created one, and
// finally to the entity already in hand.
func (e *Engine) bestSourceEntity(ctx context.Context, app, collection string, ent usergrid.Entity) usergrid.Entity {
	key := naturalKey(collection)
	name := ent.String(key)
	if name == "" {
		return ent
	}
	fetched, err := e.source.GetEntity(ctx, e.cfg.Org, app, collection, name)
	if err == nil {
		return fetched
	}
	ql := fmt.Sprintf("select * where %s='%s' order by created asc", key, name)
	it := e.source.Query(e.source.CollectionQueryURL(e.cfg.Org, app, collection, ql), e.queryOptions())
	if it.Next(ctx) {
		return it.Entity()
	}
	return ent
}

// confirmUserEntity guards against stale exports: re-fetch the user by
// username from the source and substitute the fetched version when its
// uuid differs from the one in hand. Failures to confirm fall back to the
// original entity after the attempt ceiling.
func (e *Engine) confirmUserEntity(ctx context.Context, app string, ent usergrid.Entity) usergrid.Entity {
	username := ent.Username()
	if username == "" {
		return ent
	}
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		fetched, err := e.source.GetEntity(ctx, e.cfg.Org, app, "users", url.PathEscape(username))
		if err == nil {
			if fetched.UUID() != ent.UUID() {
				e.log.Warn("user uuid changed on source, using fresh copy",
					zap.String("username", username),
					zap.String("stale_uuid", ent.UUID()),
					zap.String("fresh_uuid", fetched.UUID()))
				return fetched
			}
			return ent
		}
		if errors.Is(err, usergrid.ErrNotFound) || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(e.cfg.RetrySleep):
		case <-ctx.Done():
			return ent
		}
	}
	return ent
}
