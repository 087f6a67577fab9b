// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package status tracks migration progress. Collection workers publish
// per-collection counter snapshots; a single aggregator goroutine merges
// them into an org-level report with rolled-up extrema and sums, and
// periodically persists the report as a JSON file so an interrupted run
// leaves evidence of how far it got.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// CollectionStatus is one collection's running counters. Timestamps are
// epoch milliseconds; extrema are only meaningful when Count > 0.
type CollectionStatus struct {
	IterationStarted  int64 `json:"iteration_started,omitempty"`
	IterationFinished int64 `json:"iteration_finished,omitempty"`
	CreatedMin        int64 `json:"created_min,omitempty"`
	CreatedMax        int64 `json:"created_max,omitempty"`
	ModifiedMin       int64 `json:"modified_min,omitempty"`
	ModifiedMax       int64 `json:"modified_max,omitempty"`
	Count             int64 `json:"count"`
	Bytes             int64 `json:"bytes"`
}

// Observe folds one entity's timestamps and size into the counters.
func (s *CollectionStatus) Observe(created, modified int64, size int) {
	if s.Count == 0 || created < s.CreatedMin {
		s.CreatedMin = created
	}
	if created > s.CreatedMax {
		s.CreatedMax = created
	}
	if s.Count == 0 || modified < s.ModifiedMin {
		s.ModifiedMin = modified
	}
	if modified > s.ModifiedMax {
		s.ModifiedMax = modified
	}
	s.Count++
	s.Bytes += int64(size)
}

// Summary is the rollup of a set of collection statuses: sums over counts
// and bytes, extrema over timestamps.
type Summary struct {
	CreatedMin  int64 `json:"created_min,omitempty"`
	CreatedMax  int64 `json:"created_max,omitempty"`
	ModifiedMin int64 `json:"modified_min,omitempty"`
	ModifiedMax int64 `json:"modified_max,omitempty"`
	Count       int64 `json:"count"`
	Bytes       int64 `json:"bytes"`
}

func (sum *Summary) fold(s CollectionStatus) {
	sum.foldSummary(Summary{
		CreatedMin: s.CreatedMin, CreatedMax: s.CreatedMax,
		ModifiedMin: s.ModifiedMin, ModifiedMax: s.ModifiedMax,
		Count: s.Count, Bytes: s.Bytes,
	})
}

func (sum *Summary) foldSummary(other Summary) {
	if other.Count == 0 {
		sum.Bytes += other.Bytes
		return
	}
	if sum.Count == 0 || other.CreatedMin < sum.CreatedMin {
		sum.CreatedMin = other.CreatedMin
	}
	if other.CreatedMax > sum.CreatedMax {
		sum.CreatedMax = other.CreatedMax
	}
	if sum.Count == 0 || other.ModifiedMin < sum.ModifiedMin {
		sum.ModifiedMin = other.ModifiedMin
	}
	if other.ModifiedMax > sum.ModifiedMax {
		sum.ModifiedMax = other.ModifiedMax
	}
	sum.Count += other.Count
	sum.Bytes += other.Bytes
}

// AppReport is one application's collections plus their rollup.
type AppReport struct {
	Collections map[string]CollectionStatus `json:"collections"`
	Summary     Summary                     `json:"summary"`
}

// OrgReport is the whole run's status document.
type OrgReport struct {
	Org               string                `json:"org"`
	Operation         string                `json:"operation"`
	ECID              string                `json:"ecid"`
	MigrationStarted  int64                 `json:"migration_started"`
	MigrationFinished int64                 `json:"migration_finished,omitempty"`
	Apps              map[string]*AppReport `json:"apps"`
	Summary           Summary               `json:"summary"`
}

// Update is one publication from a collection worker. The Status is an
// authoritative snapshot of the collection's counters, not a delta.
type Update struct {
	App        string
	Collection string
	Status     CollectionStatus
}

// Aggregator consumes Updates from a channel and maintains the OrgReport.
type Aggregator struct {
	report *OrgReport
	path   string
	log    *zap.Logger
}

// NewAggregator builds an aggregator writing its snapshot file into dir,
// named {org}-{operation}-{ecid}-status.json.
func NewAggregator(dir, org, operation, ecid string, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		report: &OrgReport{
			Org:              org,
			Operation:        operation,
			ECID:             ecid,
			MigrationStarted: time.Now().UnixMilli(),
			Apps:             make(map[string]*AppReport),
		},
		path: filepath.Join(dir, fmt.Sprintf("%s-%s-%s-status.json", org, operation, ecid)),
		log:  log,
	}
}

// Path returns the snapshot file location.
func (a *Aggregator) Path() string { return a.path }

// Run consumes updates until the channel closes, then finalizes and
// writes the report one last time. Every update rewrites the snapshot
// file, so an interrupted run always leaves its latest known progress on
// disk. It is the only goroutine touching the report, so no locking is
// needed.
func (a *Aggregator) Run(updates <-chan Update) *OrgReport {
	for u := range updates {
		a.apply(u)
		a.summarize()
		a.flush()
	}
	a.report.MigrationFinished = time.Now().UnixMilli()
	a.summarize()
	a.flush()
	return a.report
}

func (a *Aggregator) apply(u Update) {
	app := a.report.Apps[u.App]
	if app == nil {
		app = &AppReport{Collections: make(map[string]CollectionStatus)}
		a.report.Apps[u.App] = app
	}
	app.Collections[u.Collection] = u.Status
}

// summarize recomputes the app and org rollups from scratch. Updates
// replace whole collection snapshots, so incremental folding would
// double-count.
func (a *Aggregator) summarize() {
	var org Summary
	for _, app := range a.report.Apps {
		var sum Summary
		for _, coll := range app.Collections {
			sum.fold(coll)
		}
		app.Summary = sum
		org.foldSummary(sum)
	}
	a.report.Summary = org
}

// flush writes the report atomically via a temp file rename.
func (a *Aggregator) flush() {
	data, err := json.MarshalIndent(a.report, "", "  ")
	if err != nil {
		a.log.Error("status: marshal report failed", zap.Error(err))
		return
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		a.log.Error("status: write snapshot failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, a.path); err != nil {
		a.log.Error("status: replace snapshot failed", zap.Error(err))
	}
}
