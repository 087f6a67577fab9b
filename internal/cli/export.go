// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cli

import (
	"github.com/spf13/cobra"

	"github.com/Project-Sylos/Graph-Migrator/pkg/report"
)

func newExportStatsCmd() *cobra.Command {
	var cfg report.ExportConfig
	cmd := &cobra.Command{
		Use:   "export-stats",
		Short: "Export the outcome ledger and status snapshot to DuckDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return report.Export(cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.LedgerPath, "ledger", "graph-migrator-ledger.db", "outcome ledger to read")
	f.StringVar(&cfg.StatusPath, "status", "", "status snapshot JSON to include")
	f.StringVar(&cfg.DuckDBPath, "out", "graph-migrator-stats.duckdb", "DuckDB file to write")
	f.BoolVar(&cfg.Overwrite, "overwrite", false, "replace an existing DuckDB file")
	return cmd
}
