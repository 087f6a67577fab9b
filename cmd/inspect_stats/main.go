// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// inspect_stats prints a human-readable report over an exported DuckDB
// stats file (see the export-stats subcommand): per-collection outcome
// counts and a completion verdict.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <path-to-stats.duckdb>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s graph-migrator-stats.duckdb\n", os.Args[0])
		os.Exit(1)
	}

	dbPath := os.Args[1]
	if !filepath.IsAbs(dbPath) {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
		dbPath = filepath.Join(wd, dbPath)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: stats file does not exist: %s\n", dbPath)
		os.Exit(1)
	}

	duck, err := sql.Open("duckdb", dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening stats file: %v\n", err)
		os.Exit(1)
	}
	defer duck.Close()

	report, err := inspect(duck)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error inspecting stats: %v\n", err)
		os.Exit(1)
	}
	printReport(report, dbPath)
}

type CollectionRow struct {
	App        string
	Collection string
	Succeeded  int64
	Failed     int64
}

type StatsReport struct {
	Collections    []CollectionRow
	TotalSucceeded int64
	TotalFailed    int64
	TopErrors      []ErrorRow
}

type ErrorRow struct {
	Error string
	Count int64
}

func inspect(duck *sql.DB) (*StatsReport, error) {
	report := &StatsReport{}

	rows, err := duck.Query(`
		SELECT app, collection,
		       SUM(CASE WHEN success THEN 1 ELSE 0 END),
		       SUM(CASE WHEN success THEN 0 ELSE 1 END)
		FROM outcomes
		GROUP BY app, collection
		ORDER BY app, collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r CollectionRow
		if err := rows.Scan(&r.App, &r.Collection, &r.Succeeded, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		report.Collections = append(report.Collections, r)
		report.TotalSucceeded += r.Succeeded
		report.TotalFailed += r.Failed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	errRows, err := duck.Query(`
		SELECT error, COUNT(*)
		FROM outcomes
		WHERE NOT success
		GROUP BY error
		ORDER BY COUNT(*) DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer errRows.Close()
	for errRows.Next() {
		var r ErrorRow
		if err := errRows.Scan(&r.Error, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error row: %w", err)
		}
		report.TopErrors = append(report.TopErrors, r)
	}
	return report, errRows.Err()
}

func printReport(report *StatsReport, dbPath string) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Migration Stats Report: %s\n", dbPath)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("Per-Collection Breakdown:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-24s %-24s %12s %10s\n", "App", "Collection", "Succeeded", "Failed")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range report.Collections {
		fmt.Printf("%-24s %-24s %12d %10d\n", r.App, r.Collection, r.Succeeded, r.Failed)
	}

	fmt.Println()
	fmt.Println("SUMMARY:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Total Succeeded: %d\n", report.TotalSucceeded)
	fmt.Printf("Total Failed:    %d\n", report.TotalFailed)

	if len(report.TopErrors) > 0 {
		fmt.Println()
		fmt.Println("Top Errors:")
		fmt.Println(strings.Repeat("-", 80))
		for _, r := range report.TopErrors {
			msg := r.Error
			if len(msg) > 64 {
				msg = msg[:64] + "..."
			}
			fmt.Printf("%6d  %s\n", r.Count, msg)
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	if report.TotalFailed == 0 {
		fmt.Printf("✓ MIGRATION COMPLETE (no failures recorded)\n")
	} else {
		fmt.Printf("✗ MIGRATION INCOMPLETE: %d failed entit(ies), re-run to repair\n", report.TotalFailed)
	}
	fmt.Println(strings.Repeat("=", 80))
}
