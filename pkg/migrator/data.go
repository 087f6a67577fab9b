// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// MigrateData copies one entity body to the target system, honoring the
// staleness cache: an entity whose cached migration timestamp is at least
// its modified timestamp is skipped. Write conflicts trigger the repair
// procedures; transient failures are retried up to the attempt ceiling.
func (e *Engine) MigrateData(ctx context.Context, app, collection string, ent usergrid.Entity) error {
	return e.migrateData(ctx, app, collection, ent, false)
}

// migrateData is MigrateData with a force switch that bypasses the
// SkipData flag and the staleness cache, used by repair paths.
func (e *Engine) migrateData(ctx context.Context, app, collection string, ent usergrid.Entity, force bool) error {
	if e.cfg.SkipData && !force {
		return nil
	}
	if e.cfg.ExcludeCollection(collection) {
		return nil
	}
	uuid := ent.UUID()
	if !force {
		if cached, ok := e.cache.GetInt64(uuid); ok {
			if cached >= ent.Modified() {
				e.log.Debug("data: up to date, skipping",
					zap.String("uuid", uuid), zap.Int64("modified", ent.Modified()))
				return nil
			}
			// Source changed since the cached migration; drop the stale mark.
			e.cache.Delete(uuid)
		}
	}
	if sameCollection(collection, "users") {
		ent = e.confirmUserEntity(ctx, app, ent)
		uuid = ent.UUID()
	}
	id := e.targetIdentifier(collection, ent)
	body := ent.StripMetadata()
	torg, tapp, tcoll := e.cfg.TargetMapping(app, collection)

	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		err := e.target.PutEntity(ctx, torg, tapp, tcoll, id, body)
		if err == nil {
			return nil
		}
		var se *usergrid.StatusError
		if !errors.As(err, &se) {
			return retry.RetryableError(err)
		}
		switch {
		case se.Transient():
			return retry.RetryableError(err)
		case se.Code == http.StatusBadRequest:
			return e.handleWriteConflict(ctx, app, collection, ent, se)
		case se.Code == http.StatusForbidden:
			return fmt.Errorf("target rejected write (forbidden): %w", err)
		default:
			return err
		}
	})
	if errors.Is(err, errKeepTarget) {
		// The target's copy stood; the source entity was never written,
		// so it must not be marked migrated or have credentials pushed.
		e.auditOutcome(app, collection, ent, "data", true, nil)
		return nil
	}
	if err != nil {
		e.auditOutcome(app, collection, ent, "data", false, err)
		return fmt.Errorf("migrate data %s/%s/%s: %w", app, collection, uuid, err)
	}
	e.cache.SetInt64(uuid, ent.Modified(), 0)
	e.auditOutcome(app, collection, ent, "data", true, nil)

	// Roles and groups carry permission grants alongside their bodies;
	// users carry credentials.
	switch {
	case sameCollection(collection, "roles") || sameCollection(collection, "groups"):
		if err := e.MigratePermissions(ctx, app, collection, ent); err != nil {
			return fmt.Errorf("migrate permissions of %s/%s: %w", collection, uuid, err)
		}
	case sameCollection(collection, "users") && !e.cfg.SkipCredentials && e.cfg.SuperUser.Username != "":
		if err := e.MigrateCredentials(ctx, app, collection, ent); err != nil {
			return fmt.Errorf("migrate credentials of user %s: %w", uuid, err)
		}
	}
	return nil
}

// handleWriteConflict dispatches a 400 response from an entity write.
// Unique-property collisions on roles and users have repair procedures;
// everything else is fatal for the entity.
func (e *Engine) handleWriteConflict(ctx context.Context, app, collection string, ent usergrid.Entity, se *usergrid.StatusError) error {
	switch {
	case sameCollection(collection, "roles"):
		return e.repairNamedEntity(ctx, app, collection, ent)
	case sameCollection(collection, "users"):
		return e.resolveUserConflict(ctx, app, ent)
	case se.ErrorCode() == "duplicate_unique_property_exists" ||
		strings.Contains(se.Body, "duplicate_unique_property_exists"):
		return fmt.Errorf("unique property collision, manual cleanup required: %w", se)
	}
	return se
}

// targetIdentifier picks the address the entity is written under on the
// target: uuid by default, or the natural key for collections configured
// name-addressed (username for users, name otherwise).
func (e *Engine) targetIdentifier(collection string, ent usergrid.Entity) string {
	if !e.cfg.UseNameFor(collection) {
		return ent.UUID()
	}
	var key string
	if sameCollection(collection, "users") {
		key = ent.Username()
	} else {
		key = ent.Name()
	}
	if key == "" {
		return ent.UUID()
	}
	return key
}

// auditOutcome writes one per-entity record to the audit stream.
func (e *Engine) auditOutcome(app, collection string, ent usergrid.Entity, op string, ok bool, err error) {
	fields := []zap.Field{
		zap.String("org", e.cfg.Org),
		zap.String("app", app),
		zap.String("collection", collection),
		zap.String("uuid", ent.UUID()),
		zap.String("op", op),
		zap.Bool("success", ok),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.audit.Info("entity", fields...)
}
