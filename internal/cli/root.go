// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package cli wires the graph-migrator command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graph-migrator",
		Short: "Migrate Usergrid orgs between clusters, graph included",
		Long: `graph-migrator copies Usergrid organizations between API endpoints:
entity data, the connection graph, role and group permissions, and user
credentials. Runs are resumable through a local visited-state cache and
leave a status snapshot, an audit log, and a queryable outcome ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newExportStatsCmd())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
