// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// MigratePermissions copies the permission grants of a role or group from
// source to target. Posting a grant that already exists is a no-op on the
// target, so the operation is idempotent.
func (e *Engine) MigratePermissions(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	if !sameCollection(collection, "roles") && !sameCollection(collection, "groups") {
		return nil
	}
	id := e.targetIdentifier(collection, ent)
	grants, err := e.source.GetPermissions(ctx, e.cfg.Org, app, collection, ent.UUID())
	if err != nil {
		return fmt.Errorf("read permissions of %s/%s: %w", collection, ent.UUID(), err)
	}
	torg, tapp, tcoll := e.cfg.TargetMapping(app, collection)
	failed := 0
	for _, grant := range grants {
		err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
			if err := e.target.PostPermission(ctx, torg, tapp, tcoll, id, grant); err != nil {
				var se *usergrid.StatusError
				if errors.As(err, &se) && !se.Transient() {
					return err
				}
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			failed++
			e.log.Error("post permission failed",
				zap.String("collection", collection), zap.String("id", id),
				zap.String("grant", grant), zap.Error(err))
		}
	}
	e.auditOutcome(app, collection, ent, "permissions", failed == 0, nil)
	if failed > 0 {
		return fmt.Errorf("permissions of %s/%s: %d grant(s) failed", collection, id, failed)
	}
	return nil
}

// MigrateCredentials copies a user's password hash block through the
// management API, preserving the password without ever seeing it in
// clear. Requires superuser auth on both endpoints.
func (e *Engine) MigrateCredentials(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	if !sameCollection(collection, "users") {
		return nil
	}
	if e.cfg.SuperUser.Username == "" {
		return errors.New("credentials migration requires superuser auth")
	}
	creds, err := e.source.GetCredentials(ctx, app, ent.UUID(), e.cfg.SuperUser)
	if err != nil {
		return fmt.Errorf("read credentials of user %s: %w", ent.UUID(), err)
	}
	_, tapp, _ := e.cfg.TargetMapping(app, collection)
	err = retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		if err := e.target.PutCredentials(ctx, tapp, ent.UUID(), e.cfg.SuperUser, creds); err != nil {
			var se *usergrid.StatusError
			if errors.As(err, &se) && !se.Transient() {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	e.auditOutcome(app, collection, ent, "credentials", err == nil, err)
	if err != nil {
		return fmt.Errorf("write credentials of user %s: %w", ent.UUID(), err)
	}
	return nil
}

// Reput issues an empty-body PUT against the target entity, which forces
// the target to reindex it without changing its data.
func (e *Engine) Reput(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	if e.cfg.ExcludeCollection(collection) {
		return nil
	}
	torg, tapp, tcoll := e.cfg.TargetMapping(app, collection)
	id := e.targetIdentifier(collection, ent)
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		if err := e.target.PutEntity(ctx, torg, tapp, tcoll, id, usergrid.Entity{}); err != nil {
			var se *usergrid.StatusError
			if errors.As(err, &se) && !se.Transient() {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	e.auditOutcome(app, collection, ent, "reput", err == nil, err)
	if err != nil {
		return fmt.Errorf("reput %s/%s/%s: %w", app, collection, id, err)
	}
	return nil
}
