// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
)

// ExportConfig configures the ledger-to-DuckDB export.
type ExportConfig struct {
	// LedgerPath is the SQLite outcome ledger to read.
	LedgerPath string
	// StatusPath optionally adds the run's status snapshot file.
	StatusPath string
	// DuckDBPath is the analysis database to write (created if missing).
	DuckDBPath string
	// Overwrite removes an existing DuckDB file first.
	Overwrite bool
}

const (
	duckOutcomesSchema = `ecid VARCHAR, org VARCHAR, app VARCHAR, collection VARCHAR,
		uuid VARCHAR, operation VARCHAR, success BOOLEAN, error VARCHAR, ts BIGINT`
	duckStatusSchema = `org VARCHAR, app VARCHAR, collection VARCHAR,
		count BIGINT, bytes BIGINT,
		created_min BIGINT, created_max BIGINT,
		modified_min BIGINT, modified_max BIGINT`
)

// Export copies the outcome ledger, and optionally the status snapshot,
// into a DuckDB file for ad-hoc SQL analysis.
func Export(cfg ExportConfig) error {
	if cfg.LedgerPath == "" {
		return fmt.Errorf("export: LedgerPath is required")
	}
	if cfg.DuckDBPath == "" {
		return fmt.Errorf("export: DuckDBPath is required")
	}
	if cfg.Overwrite {
		if _, err := os.Stat(cfg.DuckDBPath); err == nil {
			if err := os.Remove(cfg.DuckDBPath); err != nil {
				return fmt.Errorf("export: remove existing duckdb file: %w", err)
			}
		}
	}
	ledger, err := sql.Open("sqlite3", cfg.LedgerPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("export: open ledger: %w", err)
	}
	defer ledger.Close()

	duck, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return fmt.Errorf("export: open duckdb: %w", err)
	}
	defer duck.Close()

	if _, err := duck.Exec("CREATE TABLE IF NOT EXISTS outcomes (" + duckOutcomesSchema + ")"); err != nil {
		return fmt.Errorf("export: create outcomes table: %w", err)
	}
	if err := copyOutcomes(ledger, duck); err != nil {
		return err
	}
	if cfg.StatusPath != "" {
		if _, err := duck.Exec("CREATE TABLE IF NOT EXISTS collection_status (" + duckStatusSchema + ")"); err != nil {
			return fmt.Errorf("export: create status table: %w", err)
		}
		if err := copyStatus(cfg.StatusPath, duck); err != nil {
			return err
		}
	}
	return nil
}

func copyOutcomes(ledger, duck *sql.DB) error {
	rows, err := ledger.Query("SELECT ecid, org, app, collection, uuid, operation, success, error, ts FROM outcomes")
	if err != nil {
		return fmt.Errorf("export: read outcomes: %w", err)
	}
	defer rows.Close()

	tx, err := duck.Begin()
	if err != nil {
		return fmt.Errorf("export: begin: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO outcomes VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("export: prepare: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var o Outcome
		var success int
		if err := rows.Scan(&o.ECID, &o.Org, &o.App, &o.Collection, &o.UUID, &o.Operation, &success, &o.Error, &o.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("export: scan outcome: %w", err)
		}
		if _, err := stmt.Exec(o.ECID, o.Org, o.App, o.Collection, o.UUID, o.Operation, success == 1, o.Error, o.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("export: insert outcome: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("export: iterate outcomes: %w", err)
	}
	return tx.Commit()
}

func copyStatus(path string, duck *sql.DB) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("export: read status snapshot: %w", err)
	}
	var report status.OrgReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("export: decode status snapshot: %w", err)
	}
	tx, err := duck.Begin()
	if err != nil {
		return fmt.Errorf("export: begin status: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO collection_status VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("export: prepare status: %w", err)
	}
	defer stmt.Close()
	for appName, app := range report.Apps {
		for collName, coll := range app.Collections {
			if _, err := stmt.Exec(report.Org, appName, collName,
				coll.Count, coll.Bytes,
				coll.CreatedMin, coll.CreatedMax,
				coll.ModifiedMin, coll.ModifiedMax); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("export: insert status row: %w", err)
			}
		}
	}
	return tx.Commit()
}
