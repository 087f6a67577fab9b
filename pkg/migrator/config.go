// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package migrator implements the Usergrid graph migration engine: the
// per-entity traversal (data, outbound edges, inbound edges), the repair
// procedures for write conflicts, and the auxiliary operations (prune,
// permissions, credentials, reput).
package migrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// Config is the engine's run configuration. It is assembled once at
// startup, validated, and then treated as immutable; every component
// receives it by value.
type Config struct {
	// Org is the source organization being migrated.
	Org string
	// Apps restricts the run to these applications. Empty means all apps
	// in the org.
	Apps []string
	// ForceApps are migrated in addition to whatever app enumeration
	// finds, useful when the management listing lags.
	ForceApps []string
	// Collections restricts the run to these collections. Empty means all.
	Collections []string
	// ExcludeCollections are skipped entirely.
	ExcludeCollections []string
	// IncludeEdges restricts edge traversal to these edge names.
	IncludeEdges []string
	// ExcludeEdges are never traversed.
	ExcludeEdges []string

	// UseNameForCollection lists collections addressed by name rather than
	// uuid when writing to the target.
	UseNameForCollection []string

	// OrgMapping, AppMapping, and CollectionMapping rename containers
	// between source and target.
	OrgMapping        map[string]string
	AppMapping        map[string]string
	CollectionMapping map[string]string

	// GraphDepth bounds the traversal. 1 migrates only the seed entities.
	GraphDepth int
	// QL is the source collection query, default "select *".
	QL string

	// MaxAttempts is the per-request ceiling on entity writes, edge
	// writes, and deletes.
	MaxAttempts int
	// RetrySleep is the pause between attempts on the same request.
	RetrySleep time.Duration
	// PageSleep throttles page fetches on source collection queries.
	PageSleep time.Duration
	// EntitySleep is a per-entity pause applied by workers.
	EntitySleep time.Duration

	// VisitTTL bounds how long a graph visit mark suppresses re-traversal.
	VisitTTL time.Duration

	// SkipData turns graph runs into pure edge replication.
	SkipData bool
	// SkipCredentials skips password migration for users even when
	// superuser credentials are present.
	SkipCredentials bool
	// RepairData re-migrates edge endpoints when a connection write hits
	// a missing entity.
	RepairData bool
	// PruneInline runs edge pruning during graph traversal instead of as
	// a separate pass.
	PruneInline bool
	// CreateApps creates missing target applications before migrating.
	CreateApps bool

	// SuperUser authorizes the management credentials API.
	SuperUser usergrid.BasicAuth

	// Workers and queue sizing for the pipeline.
	CollectionWorkers int
	EntityWorkers     int
	QueueSize         int

	// ECID is the run's execution correlation id.
	ECID string
}

const (
	defaultGraphDepth  = 3
	defaultMaxAttempts = 5
	defaultRetrySleep  = 5 * time.Second
	defaultVisitTTL    = 2 * time.Hour
	defaultCollWorkers = 2
	defaultEntWorkers  = 8
	defaultQueueSize   = 10000
)

// WithDefaults fills unset fields and returns the completed config.
func (c Config) WithDefaults() Config {
	if c.GraphDepth <= 0 {
		c.GraphDepth = defaultGraphDepth
	}
	if c.QL == "" {
		c.QL = "select *"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = defaultRetrySleep
	}
	if c.VisitTTL <= 0 {
		c.VisitTTL = defaultVisitTTL
	}
	if c.CollectionWorkers <= 0 {
		c.CollectionWorkers = defaultCollWorkers
	}
	if c.EntityWorkers <= 0 {
		c.EntityWorkers = defaultEntWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Validate rejects configs the engine cannot run with.
func (c Config) Validate(op Operation) error {
	if c.Org == "" {
		return errors.New("migrator: org is required")
	}
	if !op.Valid() {
		return fmt.Errorf("migrator: unknown operation %q", op)
	}
	if op == OpCredentials && (c.SuperUser.Username == "" || c.SuperUser.Password == "") {
		return errors.New("migrator: credentials operation requires superuser username and password")
	}
	return nil
}

// TargetOrg maps the source org to its target name.
func (c Config) TargetOrg() string {
	if t, ok := c.OrgMapping[c.Org]; ok {
		return t
	}
	return c.Org
}

// TargetMapping resolves the target org, app, and collection for a source
// app and collection.
func (c Config) TargetMapping(app, collection string) (string, string, string) {
	tapp := app
	if t, ok := c.AppMapping[app]; ok {
		tapp = t
	}
	tcoll := collection
	if t, ok := c.CollectionMapping[collection]; ok {
		tcoll = t
	}
	return c.TargetOrg(), tapp, tcoll
}

// UseNameFor reports whether target writes address this collection's
// entities by name instead of uuid.
func (c Config) UseNameFor(collection string) bool {
	return containsFold(c.UseNameForCollection, collection)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
