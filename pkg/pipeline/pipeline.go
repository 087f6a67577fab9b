// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package pipeline fans a migration run out over worker pools. Collection
// workers iterate source collections page by page and feed entities into
// a bounded queue; entity workers drain the queue and apply the run's
// operation; a single aggregator consumes status updates. Shutdown flows
// through channel closes in stage order, so every accepted entity is
// processed before the run reports done.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Project-Sylos/Graph-Migrator/pkg/migrator"
	"github.com/Project-Sylos/Graph-Migrator/pkg/report"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// statusEvery is how many entities a collection worker iterates between
// status publications.
const statusEvery = 1000

// collectionRef names one collection of one app.
type collectionRef struct {
	App        string
	Collection string
}

// workItem is one entity queued for an entity worker.
type workItem struct {
	App        string
	Collection string
	Entity     usergrid.Entity
}

// Options wire a pipeline.
type Options struct {
	// Op is the run's operation.
	Op migrator.Operation
	// StatusDir receives the status snapshot file.
	StatusDir string
	// Ledger optionally records per-entity outcomes. May be nil.
	Ledger *report.Ledger
}

// Pipeline executes one migration run.
type Pipeline struct {
	cfg       migrator.Config
	op        migrator.Operation
	source    *usergrid.Client
	engine    *migrator.Engine
	handler   migrator.Handler
	ledger    *report.Ledger
	statusDir string
	log       *zap.Logger

	failures atomic.Int64
}

// New assembles a pipeline around an engine.
func New(engine *migrator.Engine, source *usergrid.Client, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	statusDir := opts.StatusDir
	if statusDir == "" {
		statusDir = "."
	}
	return &Pipeline{
		cfg:       engine.Config(),
		op:        opts.Op,
		source:    source,
		engine:    engine,
		handler:   engine.Handler(opts.Op),
		ledger:    opts.Ledger,
		statusDir: statusDir,
		log:       log,
	}
}

// Run executes the full migration: enumerate apps and collections, start
// the worker stages, feed the work, and drain stage by stage. A non-nil
// error means the run itself broke (enumeration, iteration, or
// cancellation); per-entity failures complete the run and are reported
// through Failures, the ledger, and the logs instead.
func (p *Pipeline) Run(ctx context.Context) (*status.OrgReport, error) {
	apps, err := p.engine.SourceApps(ctx)
	if err != nil {
		return nil, err
	}
	if p.cfg.CreateApps {
		if err := p.engine.EnsureTargetApps(ctx, apps); err != nil {
			return nil, err
		}
	}
	var refs []collectionRef
	for _, app := range apps {
		colls, err := p.engine.SourceCollections(ctx, app, p.op)
		if err != nil {
			return nil, err
		}
		for _, coll := range colls {
			refs = append(refs, collectionRef{App: app, Collection: coll})
		}
	}
	p.log.Info("pipeline starting",
		zap.String("operation", string(p.op)),
		zap.Int("apps", len(apps)), zap.Int("collections", len(refs)),
		zap.Int("collection_workers", p.cfg.CollectionWorkers),
		zap.Int("entity_workers", p.cfg.EntityWorkers))

	collections := make(chan collectionRef, len(refs))
	entities := make(chan workItem, p.cfg.QueueSize)
	updates := make(chan status.Update, p.cfg.QueueSize)

	agg := status.NewAggregator(p.statusDir, p.cfg.Org, string(p.op), p.cfg.ECID, p.log)

	var final *status.OrgReport
	aggDone := make(chan struct{})
	go func() {
		final = agg.Run(updates)
		close(aggDone)
	}()

	// Workers are started before any work is published so a full queue
	// always has consumers.
	collGroup, collCtx := errgroup.WithContext(ctx)
	for range p.cfg.CollectionWorkers {
		collGroup.Go(func() error {
			return p.collectionWorker(collCtx, collections, entities, updates)
		})
	}
	entGroup, entCtx := errgroup.WithContext(ctx)
	for range p.cfg.EntityWorkers {
		entGroup.Go(func() error {
			return p.entityWorker(entCtx, entities)
		})
	}

	for _, ref := range refs {
		collections <- ref
	}
	close(collections)

	collErr := collGroup.Wait()
	close(entities)
	entErr := entGroup.Wait()
	close(updates)
	<-aggDone

	if collErr != nil {
		return final, collErr
	}
	if entErr != nil {
		return final, entErr
	}
	if n := p.failures.Load(); n > 0 {
		p.log.Warn("pipeline completed with entity failures, see audit log and ledger",
			zap.Int64("failed", n))
	}
	return final, nil
}

// Failures reports how many entities failed during the run.
func (p *Pipeline) Failures() int64 { return p.failures.Load() }

// collectionWorker drains collection refs, iterating each collection and
// feeding entities downstream. Iteration failures fail the run; the
// per-entity failures belong to the entity workers.
func (p *Pipeline) collectionWorker(ctx context.Context, collections <-chan collectionRef, entities chan<- workItem, updates chan<- status.Update) error {
	for ref := range collections {
		if err := p.iterateCollection(ctx, ref, entities, updates); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) iterateCollection(ctx context.Context, ref collectionRef, entities chan<- workItem, updates chan<- status.Update) error {
	st := status.CollectionStatus{IterationStarted: time.Now().UnixMilli()}
	queryURL := p.source.CollectionQueryURL(p.cfg.Org, ref.App, ref.Collection, p.cfg.QL)
	it := p.source.Query(queryURL, usergrid.QueryOptions{
		MaxAttempts: p.cfg.MaxAttempts,
		RetrySleep:  p.cfg.RetrySleep,
		PageDelay:   p.cfg.PageSleep,
	})

	published := func() {
		select {
		case updates <- status.Update{App: ref.App, Collection: ref.Collection, Status: st}:
		case <-ctx.Done():
		}
	}

	n := 0
	for it.Next(ctx) {
		ent := it.Entity()
		st.Observe(ent.Created(), ent.Modified(), ent.ByteSize())
		select {
		case entities <- workItem{App: ref.App, Collection: ref.Collection, Entity: ent}:
		case <-ctx.Done():
			return ctx.Err()
		}
		n++
		if n%statusEvery == 0 {
			published()
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate %s/%s/%s: %w", p.cfg.Org, ref.App, ref.Collection, err)
	}
	st.IterationFinished = time.Now().UnixMilli()
	published()
	p.log.Info("collection iterated",
		zap.String("app", ref.App), zap.String("collection", ref.Collection),
		zap.Int64("count", st.Count), zap.Int64("bytes", st.Bytes))
	return nil
}

// entityWorker drains the entity queue, applying the run's operation.
// Per-entity failures are recorded and counted but never stop the run;
// only context cancellation does.
func (p *Pipeline) entityWorker(ctx context.Context, entities <-chan workItem) error {
	for item := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.handler(ctx, item.App, item.Collection, item.Entity)
		if err != nil {
			p.failures.Add(1)
			p.log.Error("entity operation failed",
				zap.String("app", item.App), zap.String("collection", item.Collection),
				zap.String("uuid", item.Entity.UUID()), zap.Error(err))
		}
		p.record(item, err)
		if p.cfg.EntitySleep > 0 {
			select {
			case <-time.After(p.cfg.EntitySleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (p *Pipeline) record(item workItem, opErr error) {
	if p.ledger == nil {
		return
	}
	o := report.Outcome{
		ECID:       p.cfg.ECID,
		Org:        p.cfg.Org,
		App:        item.App,
		Collection: item.Collection,
		UUID:       item.Entity.UUID(),
		Operation:  string(p.op),
		Success:    opErr == nil,
	}
	if opErr != nil {
		o.Error = opErr.Error()
	}
	p.ledger.Record(o)
}
