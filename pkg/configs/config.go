// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package configs assembles the migrator's runtime configuration from
// layered sources: built-in defaults, an optional JSON config file,
// UG_MIGRATOR_* environment variables, and command-line flags, in that
// order of increasing precedence.
package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/Project-Sylos/Graph-Migrator/pkg/cache"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/migrator"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

const envPrefix = "UG_MIGRATOR_"

// Endpoint describes one Usergrid API endpoint and its org credentials.
type Endpoint struct {
	URL          string `koanf:"url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Limit        int    `koanf:"limit"`
}

// Runtime is the fully resolved configuration of one run.
type Runtime struct {
	Migrator   migrator.Config
	Operation  migrator.Operation
	Source     Endpoint
	Target     Endpoint
	Cache      cache.Config
	Log        logservice.Config
	StatusDir  string
	LedgerPath string
}

// raw mirrors the koanf key space before conversion into Runtime.
type raw struct {
	Org                  string   `koanf:"org"`
	Apps                 []string `koanf:"apps"`
	ForceApps            []string `koanf:"force_apps"`
	Collections          []string `koanf:"collections"`
	ExcludeCollections   []string `koanf:"exclude_collections"`
	IncludeEdges         []string `koanf:"include_edges"`
	ExcludeEdges         []string `koanf:"exclude_edges"`
	UseNameForCollection []string `koanf:"use_name_for_collection"`
	OrgMapping           []string `koanf:"org_mapping"`
	AppMapping           []string `koanf:"app_mapping"`
	CollectionMapping    []string `koanf:"collection_mapping"`

	Operation   string `koanf:"operation"`
	GraphDepth  int    `koanf:"graph_depth"`
	QL          string `koanf:"ql"`
	MaxAttempts int    `koanf:"max_attempts"`

	RetrySleepSeconds  float64 `koanf:"retry_sleep_seconds"`
	PageSleepSeconds   float64 `koanf:"page_sleep_seconds"`
	EntitySleepSeconds float64 `koanf:"entity_sleep_seconds"`
	VisitTTLSeconds    float64 `koanf:"visit_ttl_seconds"`

	SkipData        bool `koanf:"skip_data"`
	SkipCredentials bool `koanf:"skip_credentials"`
	RepairData      bool `koanf:"repair_data"`
	PruneInline     bool `koanf:"prune_inline"`
	CreateApps      bool `koanf:"create_apps"`

	SuUsername string `koanf:"su_username"`
	SuPassword string `koanf:"su_password"`

	CollectionWorkers int `koanf:"collection_workers"`
	EntityWorkers     int `koanf:"entity_workers"`
	QueueSize         int `koanf:"queue_size"`

	Source Endpoint `koanf:"source"`
	Target Endpoint `koanf:"target"`

	Cache cache.Config `koanf:"cache"`

	LogDir     string `koanf:"log_dir"`
	LogLevel   string `koanf:"log_level"`
	LogConsole bool   `koanf:"log_console"`

	StatusDir  string `koanf:"status_dir"`
	LedgerPath string `koanf:"ledger_path"`
}

func defaults() map[string]any {
	return map[string]any{
		"operation":           string(migrator.OpData),
		"graph_depth":         3,
		"ql":                  "select *",
		"max_attempts":        5,
		"retry_sleep_seconds": 5.0,
		"visit_ttl_seconds":   7200.0,
		"collection_workers":  2,
		"entity_workers":      8,
		"queue_size":          10000,
		"cache.backend":       "bolt",
		"cache.path":          "graph-migrator-cache.db",
		"log_dir":             "logs",
		"log_level":           "info",
		"log_console":         true,
		"status_dir":          ".",
		"ledger_path":         "graph-migrator-ledger.db",
	}
}

// Load resolves the runtime config. configPath may be empty; flags may be
// nil when loading outside a CLI context.
func Load(configPath string, flags *pflag.FlagSet) (*Runtime, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		if err := k.Load(file.Provider(configPath), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}
	var r raw
	if err := k.Unmarshal("", &r); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return r.runtime()
}

func (r raw) runtime() (*Runtime, error) {
	orgMap, err := ParseMappings(r.OrgMapping)
	if err != nil {
		return nil, fmt.Errorf("org_mapping: %w", err)
	}
	appMap, err := ParseMappings(r.AppMapping)
	if err != nil {
		return nil, fmt.Errorf("app_mapping: %w", err)
	}
	collMap, err := ParseMappings(r.CollectionMapping)
	if err != nil {
		return nil, fmt.Errorf("collection_mapping: %w", err)
	}
	op := migrator.Operation(r.Operation)
	mcfg := migrator.Config{
		Org:                  r.Org,
		Apps:                 r.Apps,
		ForceApps:            r.ForceApps,
		Collections:          r.Collections,
		ExcludeCollections:   r.ExcludeCollections,
		IncludeEdges:         r.IncludeEdges,
		ExcludeEdges:         r.ExcludeEdges,
		UseNameForCollection: r.UseNameForCollection,
		OrgMapping:           orgMap,
		AppMapping:           appMap,
		CollectionMapping:    collMap,
		GraphDepth:           r.GraphDepth,
		QL:                   r.QL,
		MaxAttempts:          r.MaxAttempts,
		RetrySleep:           seconds(r.RetrySleepSeconds),
		PageSleep:            seconds(r.PageSleepSeconds),
		EntitySleep:          seconds(r.EntitySleepSeconds),
		VisitTTL:             seconds(r.VisitTTLSeconds),
		SkipData:             r.SkipData,
		SkipCredentials:      r.SkipCredentials,
		RepairData:           r.RepairData,
		PruneInline:          r.PruneInline,
		CreateApps:           r.CreateApps,
		SuperUser:            usergrid.BasicAuth{Username: r.SuUsername, Password: r.SuPassword},
		CollectionWorkers:    r.CollectionWorkers,
		EntityWorkers:        r.EntityWorkers,
		QueueSize:            r.QueueSize,
		ECID:                 uuid.NewString(),
	}.WithDefaults()
	if err := mcfg.Validate(op); err != nil {
		return nil, err
	}
	if r.Source.URL == "" {
		return nil, fmt.Errorf("source.url is required")
	}
	if r.Target.URL == "" && op != migrator.OpNone {
		return nil, fmt.Errorf("target.url is required for operation %q", op)
	}
	return &Runtime{
		Migrator:  mcfg,
		Operation: op,
		Source:    r.Source,
		Target:    r.Target,
		Cache:     r.Cache,
		Log: logservice.Config{
			Dir:       r.LogDir,
			Level:     r.LogLevel,
			Console:   r.LogConsole,
			Org:       mcfg.Org,
			Operation: string(op),
			ECID:      mcfg.ECID,
		},
		StatusDir:  r.StatusDir,
		LedgerPath: r.LedgerPath,
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ParseMappings converts "old:new" rename pairs into a map.
func ParseMappings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		from, to, ok := strings.Cut(pair, ":")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("malformed mapping %q, want old:new", pair)
		}
		out[from] = to
	}
	return out, nil
}

// Client builds a usergrid client for an endpoint.
func (e Endpoint) Client() *usergrid.Client {
	return usergrid.NewClient(e.URL, usergrid.Credentials{
		ClientID:     e.ClientID,
		ClientSecret: e.ClientSecret,
	}, usergrid.ClientOptions{Limit: e.Limit})
}
