// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/cache"
	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/migrator"
	"github.com/Project-Sylos/Graph-Migrator/pkg/pipeline"
	"github.com/Project-Sylos/Graph-Migrator/pkg/report"
)

func newMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run a migration operation against an org",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := configs.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), rt)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file")

	// Every flag shadows a config key; flags win over file and env.
	f := cmd.Flags()
	f.String("org", "", "source org to migrate")
	f.StringSlice("apps", nil, "apps to migrate (default: all in org)")
	f.StringSlice("force_apps", nil, "apps to migrate even if not listed by the management API")
	f.StringSlice("collections", nil, "collections to migrate (default: all)")
	f.StringSlice("exclude_collections", nil, "collections to skip")
	f.StringSlice("include_edges", nil, "edge names to traverse (default: all)")
	f.StringSlice("exclude_edges", nil, "edge names to skip")
	f.StringSlice("use_name_for_collection", nil, "collections addressed by name on the target")
	f.StringSlice("org_mapping", nil, "org renames, old:new")
	f.StringSlice("app_mapping", nil, "app renames, old:new")
	f.StringSlice("collection_mapping", nil, "collection renames, old:new")
	f.String("operation", "data", "data | graph | prune | credentials | permissions | reput | none")
	f.Int("graph_depth", 3, "graph traversal depth")
	f.String("ql", "select *", "source collection query")
	f.Int("max_attempts", 5, "write attempt ceiling")
	f.Float64("retry_sleep_seconds", 5, "pause between attempts")
	f.Float64("page_sleep_seconds", 0, "pause between source pages")
	f.Float64("entity_sleep_seconds", 0, "pause between entities per worker")
	f.Float64("visit_ttl_seconds", 7200, "visited-mark lifetime")
	f.Bool("skip_data", false, "graph runs: replicate edges only")
	f.Bool("skip_credentials", false, "never migrate user credentials")
	f.Bool("repair_data", false, "re-migrate edge endpoints missing on the target")
	f.Bool("prune_inline", false, "prune stale edges during graph traversal")
	f.Bool("create_apps", false, "create missing target apps")
	f.String("su_username", "", "superuser for the credentials API")
	f.String("su_password", "", "superuser password")
	f.Int("collection_workers", 2, "collection iterator workers")
	f.Int("entity_workers", 8, "entity operation workers")
	f.Int("queue_size", 10000, "entity queue capacity")
	f.String("source.url", "", "source API base URL")
	f.String("source.client_id", "", "source org client id")
	f.String("source.client_secret", "", "source org client secret")
	f.Int("source.limit", 100, "source page size")
	f.String("target.url", "", "target API base URL")
	f.String("target.client_id", "", "target org client id")
	f.String("target.client_secret", "", "target org client secret")
	f.Int("target.limit", 100, "target page size")
	f.String("cache.backend", "bolt", "visited cache backend: bolt | badger | none")
	f.String("cache.path", "graph-migrator-cache.db", "visited cache location")
	f.Bool("cache.skip_read", false, "ignore cached visit marks")
	f.Bool("cache.skip_write", false, "do not record visit marks")
	f.String("log_dir", "logs", "log file directory")
	f.String("log_level", "info", "log level: debug | info | warn | error")
	f.Bool("log_console", true, "mirror logs to stdout")
	f.String("status_dir", ".", "status snapshot directory")
	f.String("ledger_path", "graph-migrator-ledger.db", "outcome ledger file")
	return cmd
}

func runMigrate(ctx context.Context, rt *configs.Runtime) error {
	logs, err := logservice.New(rt.Log)
	if err != nil {
		return err
	}
	defer logs.Sync()
	log := logs.General

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	visited := cache.Open(rt.Cache, log)
	defer visited.Close()

	ledger, err := report.Open(rt.LedgerPath, log)
	if err != nil {
		return fmt.Errorf("open outcome ledger: %w", err)
	}
	defer ledger.Close()

	engine := migrator.New(rt.Migrator, rt.Source.Client(), rt.Target.Client(), visited, log, logs.Audit)
	pipe := pipeline.New(engine, rt.Source.Client(), pipeline.Options{
		Op:        rt.Operation,
		StatusDir: rt.StatusDir,
		Ledger:    ledger,
	}, log)

	log.Info("migration starting",
		zap.String("org", rt.Migrator.Org),
		zap.String("operation", string(rt.Operation)),
		zap.String("ecid", rt.Migrator.ECID))

	final, runErr := pipe.Run(ctx)
	if final != nil {
		log.Info("migration finished",
			zap.Int64("entities", final.Summary.Count),
			zap.Int64("bytes", final.Summary.Bytes),
			zap.Int64("failed", pipe.Failures()))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn("migration interrupted", zap.Error(ctxErr))
	}
	// A completed run exits zero even when individual entities failed;
	// their count lives in the logs and the ledger. Only a broken run
	// (bad config, iteration failure, interrupt) is fatal.
	return runErr
}
