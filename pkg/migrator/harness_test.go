// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Project-Sylos/Graph-Migrator/pkg/cache"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// putRule scripts failures for PUTs whose final path segment matches ID.
// Times < 0 means always.
type putRule struct {
	ID    string
	Code  int
	Times int
}

// fakeEndpoint is an in-memory Usergrid endpoint good enough for the
// engine: entity CRUD, one-page collection and edge listings, connection
// writes, and the management app listing.
type fakeEndpoint struct {
	t  *testing.T
	mu sync.Mutex

	// collections maps "org/app/collection" to its entities.
	collections map[string][]usergrid.Entity
	// edges maps "org/app/collection/id/edge" (and ".../connecting/edge")
	// to the entities on the far side.
	edges map[string][]usergrid.Entity
	// perms maps "org/app/collection/id" to permission grants.
	perms map[string][]string

	puts         []string
	deletes      []string
	connPosts    []string
	connDeletes  []string
	putRules     []*putRule
	connPostRule *putRule

	srv *httptest.Server
}

func newFakeEndpoint(t *testing.T) *fakeEndpoint {
	t.Helper()
	f := &fakeEndpoint{
		t:           t,
		collections: make(map[string][]usergrid.Entity),
		edges:       make(map[string][]usergrid.Entity),
		perms:       make(map[string][]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /management/organizations/{org}/applications", f.handleListApps)
	mux.HandleFunc("GET /{org}/{app}/{coll}", f.handleListCollection)
	mux.HandleFunc("GET /{org}/{app}/{coll}/{id}", f.handleGetEntity)
	mux.HandleFunc("PUT /{org}/{app}/{coll}/{id}", f.handlePutEntity)
	mux.HandleFunc("DELETE /{org}/{app}/{coll}/{id}", f.handleDeleteEntity)
	mux.HandleFunc("GET /{org}/{app}/{coll}/{id}/permissions", f.handleGetPermissions)
	mux.HandleFunc("POST /{org}/{app}/{coll}/{id}/permissions", f.handlePostPermission)
	mux.HandleFunc("GET /{org}/{app}/{coll}/{id}/connecting/{edge}", f.handleListEdge)
	mux.HandleFunc("GET /{org}/{app}/{coll}/{id}/{edge}", f.handleListEdge)
	mux.HandleFunc("POST /{org}/{app}/{rest...}", f.handlePostConnection)
	mux.HandleFunc("DELETE /{org}/{app}/{rest...}", f.handleDeleteConnection)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEndpoint) client() *usergrid.Client {
	return usergrid.NewClient(f.srv.URL, usergrid.Credentials{}, usergrid.ClientOptions{})
}

func (f *fakeEndpoint) add(org, app, coll string, ents ...usergrid.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := org + "/" + app + "/" + coll
	f.collections[key] = append(f.collections[key], ents...)
}

func (f *fakeEndpoint) addEdge(org, app, coll, id, edge string, targets ...usergrid.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join([]string{org, app, coll, id, edge}, "/")
	f.edges[key] = append(f.edges[key], targets...)
}

func (f *fakeEndpoint) failPuts(id string, code, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rule := range f.putRules {
		if rule.ID == id {
			rule.Code, rule.Times = code, times
			return
		}
	}
	f.putRules = append(f.putRules, &putRule{ID: id, Code: code, Times: times})
}

func (f *fakeEndpoint) failConnPosts(code, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connPostRule = &putRule{Code: code, Times: times}
}

func (f *fakeEndpoint) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeEndpoint) find(org, app, coll, id string) (usergrid.Entity, bool) {
	for _, e := range f.collections[org+"/"+app+"/"+coll] {
		if e.UUID() == id || e.Name() == id || e.Username() == id {
			return e, true
		}
	}
	return nil, false
}

func writeEntities(w http.ResponseWriter, ents []usergrid.Entity) {
	if ents == nil {
		ents = []usergrid.Entity{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"entities": ents})
}

func writeError(w http.ResponseWriter, code int, errCode string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": errCode})
}

func (f *fakeEndpoint) handleListApps(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org := r.PathValue("org")
	apps := make(map[string]string)
	for key := range f.collections {
		parts := strings.SplitN(key, "/", 3)
		if parts[0] == org {
			apps[org+"/"+parts[1]] = "app-id-" + parts[1]
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": apps})
}

func (f *fakeEndpoint) handleListCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.PathValue("org") + "/" + r.PathValue("app") + "/" + r.PathValue("coll")
	ents, ok := f.collections[key]
	if !ok {
		writeError(w, http.StatusNotFound, "organization_application_not_found")
		return
	}
	writeEntities(w, ents)
}

func (f *fakeEndpoint) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.find(r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "service_resource_not_found")
		return
	}
	writeEntities(w, []usergrid.Entity{ent})
}

func (f *fakeEndpoint) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, app, coll, id := r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id")
	path := strings.Join([]string{org, app, coll, id}, "/")
	f.puts = append(f.puts, path)
	for _, rule := range f.putRules {
		if rule.ID != id && rule.ID != "*" {
			continue
		}
		if rule.Times != 0 {
			if rule.Times > 0 {
				rule.Times--
			}
			writeError(w, rule.Code, "scripted_failure")
			return
		}
	}
	var body usergrid.Entity
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	key := org + "/" + app + "/" + coll
	replaced := false
	for i, e := range f.collections[key] {
		if e.UUID() == body.UUID() && body.UUID() != "" {
			f.collections[key][i] = body
			replaced = true
			break
		}
	}
	if !replaced {
		f.collections[key] = append(f.collections[key], body)
	}
	writeEntities(w, []usergrid.Entity{body})
}

func (f *fakeEndpoint) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, app, coll, id := r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id")
	f.deletes = append(f.deletes, strings.Join([]string{org, app, coll, id}, "/"))
	key := org + "/" + app + "/" + coll
	for i, e := range f.collections[key] {
		if e.UUID() == id || e.Name() == id || e.Username() == id {
			f.collections[key] = append(f.collections[key][:i], f.collections[key][i+1:]...)
			writeEntities(w, []usergrid.Entity{e})
			return
		}
	}
	writeError(w, http.StatusNotFound, "service_resource_not_found")
}

func (f *fakeEndpoint) handleListEdge(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join([]string{r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id")}, "/")
	if edge := r.PathValue("edge"); strings.Contains(r.URL.Path, "/connecting/") {
		key += "/connecting/" + edge
	} else {
		key += "/" + edge
	}
	writeEntities(w, f.edges[key])
}

func (f *fakeEndpoint) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join([]string{r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id")}, "/")
	grants := f.perms[key]
	if grants == nil {
		grants = []string{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": grants})
}

func (f *fakeEndpoint) handlePostPermission(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	key := strings.Join([]string{r.PathValue("org"), r.PathValue("app"), r.PathValue("coll"), r.PathValue("id")}, "/")
	f.perms[key] = append(f.perms[key], body.Permission)
	writeEntities(w, nil)
}

func (f *fakeEndpoint) handlePostConnection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule := f.connPostRule; rule != nil && rule.Times != 0 {
		if rule.Times > 0 {
			rule.Times--
		}
		writeError(w, rule.Code, "scripted_failure")
		return
	}
	path := strings.Join([]string{r.PathValue("org"), r.PathValue("app"), r.PathValue("rest")}, "/")
	f.connPosts = append(f.connPosts, path)
	writeEntities(w, nil)
}

func (f *fakeEndpoint) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.Join([]string{r.PathValue("org"), r.PathValue("app"), r.PathValue("rest")}, "/")
	f.connDeletes = append(f.connDeletes, path)
	writeEntities(w, nil)
}

// testConfig is a fast-running engine config for one org.
func testConfig() Config {
	return Config{
		Org:         "srcorg",
		GraphDepth:  2,
		MaxAttempts: 3,
		RetrySleep:  time.Millisecond,
		VisitTTL:    time.Hour,
	}.WithDefaults()
}

// newTestEngine wires an engine over two fakes with a bolt-backed cache.
func newTestEngine(t *testing.T, cfg Config, source, target *fakeEndpoint) *Engine {
	t.Helper()
	store, err := cache.OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(cfg, source.client(), target.client(), cache.NewWithStore(store, zap.NewNop()), zap.NewNop(), zap.NewNop())
}

// widget builds a simple entity.
func widget(uuid string, created, modified int64) usergrid.Entity {
	return usergrid.Entity{
		"uuid":     uuid,
		"type":     "widget",
		"name":     "name-" + uuid,
		"created":  float64(created),
		"modified": float64(modified),
	}
}

// withOutEdges attaches outbound connection metadata.
func withOutEdges(e usergrid.Entity, edges ...string) usergrid.Entity {
	conns := make(map[string]any, len(edges))
	for _, edge := range edges {
		conns[edge] = fmt.Sprintf("/%s/%s/%s", e.Type(), e.UUID(), edge)
	}
	e["metadata"] = map[string]any{"connections": conns}
	return e
}
