// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package report persists per-entity migration outcomes. The ledger is a
// local SQLite file that entity workers append to, giving a run a
// queryable record of what succeeded and what failed; the etl side
// exports ledger and status data into DuckDB for analysis.
package report

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Outcome is one entity-level result row.
type Outcome struct {
	ECID       string
	Org        string
	App        string
	Collection string
	UUID       string
	Operation  string
	Success    bool
	Error      string
	Timestamp  int64
}

const outcomesSchema = `
	ecid TEXT NOT NULL,
	org TEXT NOT NULL,
	app TEXT NOT NULL,
	collection TEXT NOT NULL,
	uuid TEXT NOT NULL,
	operation TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL`

// Ledger is a buffered writer over the outcomes table. Record is safe
// for concurrent use; rows are flushed in batches on a size threshold
// and a timer, and unconditionally on Close. A failed flush puts the
// batch back so rows are only dropped if Close itself cannot write them.
type Ledger struct {
	conn *sql.DB
	log  *zap.Logger

	mu   sync.Mutex
	rows []Outcome

	maxBatch int
	ticker   *time.Ticker
	stop     chan struct{}
	done     chan struct{}
}

const (
	ledgerBatchSize   = 500
	ledgerFlushPeriod = 5 * time.Second
)

// Open creates or opens the ledger file and starts the flush loop. A nil
// logger is replaced with a no-op.
func Open(path string, log *zap.Logger) (*Ledger, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if _, err := conn.Exec("CREATE TABLE IF NOT EXISTS outcomes (" + outcomesSchema + ")"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create outcomes table: %w", err)
	}
	if _, err := conn.Exec("CREATE INDEX IF NOT EXISTS idx_outcomes_uuid ON outcomes (uuid)"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index outcomes table: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		conn:     conn,
		log:      log,
		maxBatch: ledgerBatchSize,
		ticker:   time.NewTicker(ledgerFlushPeriod),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

func (l *Ledger) flushLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.ticker.C:
			l.flushLogged()
		case <-l.stop:
			l.ticker.Stop()
			l.flushLogged()
			return
		}
	}
}

func (l *Ledger) flushLogged() {
	if err := l.Flush(); err != nil {
		l.log.Error("ledger flush failed, rows kept buffered", zap.Error(err))
	}
}

// Record queues one outcome row.
func (l *Ledger) Record(o Outcome) {
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().UnixMilli()
	}
	l.mu.Lock()
	l.rows = append(l.rows, o)
	full := len(l.rows) >= l.maxBatch
	l.mu.Unlock()
	if full {
		l.flushLogged()
	}
}

// Flush writes all buffered rows in one transaction. On failure the
// batch goes back into the buffer for the next attempt.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	batch := l.rows
	l.rows = nil
	l.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := l.write(batch); err != nil {
		l.mu.Lock()
		l.rows = append(batch, l.rows...)
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Ledger) write(batch []Outcome) error {
	tx, err := l.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger flush: begin: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO outcomes VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("ledger flush: prepare: %w", err)
	}
	defer stmt.Close()
	for _, o := range batch {
		success := 0
		if o.Success {
			success = 1
		}
		if _, err := stmt.Exec(o.ECID, o.Org, o.App, o.Collection, o.UUID, o.Operation, success, o.Error, o.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ledger flush: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Counts returns the success and failure row counts, optionally filtered
// by ecid. Used by reporting and tests.
func (l *Ledger) Counts(ecid string) (succeeded, failed int64, err error) {
	query := "SELECT success, COUNT(*) FROM outcomes"
	var args []any
	if ecid != "" {
		query += " WHERE ecid = ?"
		args = append(args, ecid)
	}
	query += " GROUP BY success"
	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var success int
		var n int64
		if err := rows.Scan(&success, &n); err != nil {
			return 0, 0, err
		}
		if success == 1 {
			succeeded = n
		} else {
			failed = n
		}
	}
	return succeeded, failed, rows.Err()
}

// Failures returns the failed outcomes of a run, most recent first.
func (l *Ledger) Failures(ecid string, limit int) ([]Outcome, error) {
	query := "SELECT ecid, org, app, collection, uuid, operation, success, error, ts FROM outcomes WHERE success = 0"
	var args []any
	if ecid != "" {
		query += " AND ecid = ?"
		args = append(args, ecid)
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		var o Outcome
		var success int
		if err := rows.Scan(&o.ECID, &o.Org, &o.App, &o.Collection, &o.UUID, &o.Operation, &success, &o.Error, &o.Timestamp); err != nil {
			return nil, err
		}
		o.Success = success == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// Conn exposes the underlying connection for the etl exporter.
func (l *Ledger) Conn() *sql.DB { return l.conn }

// Close stops the flush loop, flushes the tail, and closes the file.
func (l *Ledger) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
	var errs []string
	if err := l.Flush(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := l.conn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close ledger: %s", strings.Join(errs, "; "))
	}
	return nil
}
