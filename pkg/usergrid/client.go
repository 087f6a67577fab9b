// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound reports that the requested resource does not exist on the
// endpoint. It unwraps from the *StatusError returned for 404 responses.
var ErrNotFound = errors.New("usergrid: resource not found")

// StatusError is a non-2xx response from a Usergrid endpoint. The body is
// retained because Usergrid encodes the failure class ("error" field) in
// the JSON body rather than the status code alone.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usergrid: %s returned %d: %s", e.URL, e.Code, truncate(e.Body, 512))
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Transient reports whether the failure is worth retrying as-is.
func (e *StatusError) Transient() bool { return e.Code >= 500 }

// ErrorCode extracts the "error" field from the response body, e.g.
// "duplicate_unique_property_exists". Returns "" when the body is not the
// standard Usergrid error envelope.
func (e *StatusError) ErrorCode() string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Credentials is a Usergrid org-level client id/secret pair.
type Credentials struct {
	ClientID     string `json:"client_id" koanf:"client_id"`
	ClientSecret string `json:"client_secret" koanf:"client_secret"`
}

// BasicAuth is a superuser login for the management credentials API.
type BasicAuth struct {
	Username string `json:"username" koanf:"username"`
	Password string `json:"password" koanf:"password"`
}

// Client talks to one Usergrid endpoint (one API base URL) with one set of
// org credentials. It is safe for concurrent use.
type Client struct {
	base  string
	creds Credentials
	limit int
	http  *http.Client
}

// ClientOptions configure a Client. Zero values fall back to defaults.
type ClientOptions struct {
	// Limit is the page size requested on collection queries.
	Limit int
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration
	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client
}

const (
	defaultLimit   = 100
	defaultTimeout = 240 * time.Second
)

// NewClient returns a client for the given API base URL, e.g.
// "https://api.usergrid.example.com".
func NewClient(base string, creds Credentials, opts ClientOptions) *Client {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		creds: creds,
		limit: opts.Limit,
		http:  hc,
	}
}

// Base returns the endpoint's API base URL.
func (c *Client) Base() string { return c.base }

// Limit returns the configured collection page size.
func (c *Client) Limit() int { return c.limit }

// url assembles base + path segments + auth query params.
func (c *Client) url(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if c.creds.ClientID != "" {
		params.Set("client_id", c.creds.ClientID)
		params.Set("client_secret", c.creds.ClientSecret)
	}
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// CollectionQueryURL is the paged query endpoint for a collection,
// optionally filtered by a ql expression.
func (c *Client) CollectionQueryURL(org, app, collection, ql string) string {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.limit))
	if ql != "" {
		params.Set("ql", ql)
	}
	return c.url(fmt.Sprintf("%s/%s/%s", org, app, collection), params)
}

// EntityURL addresses a single entity by uuid or name.
func (c *Client) EntityURL(org, app, collection, id string) string {
	return c.url(fmt.Sprintf("%s/%s/%s/%s", org, app, collection, id), nil)
}

// entityPath is the bare path for an entity, without base or auth.
func entityPath(org, app, collection, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", org, app, collection, id)
}

// ConnectionListURL lists the targets of an outbound edge. The
// connections=none parameter suppresses the edge metadata of the listed
// entities themselves, which the migrator fetches separately per entity.
func (c *Client) ConnectionListURL(org, app, collection, id, edge string) string {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.limit))
	return c.url(fmt.Sprintf("%s/%s/%s/%s/%s", org, app, collection, id, edge), params)
}

// ConnectingListURL lists the sources of an inbound edge.
func (c *Client) ConnectingListURL(org, app, collection, id, edge string) string {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.limit))
	return c.url(fmt.Sprintf("%s/%s/%s/%s/connecting/%s", org, app, collection, id, edge), params)
}

// ConnectionPath is the path that creates or deletes one edge instance
// between two typed endpoints. sourceRef and targetRef are "type/id"
// pairs, or a bare id when the edge name already implies the type.
func ConnectionPath(org, app, sourceRef, edge, targetRef string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", org, app, sourceRef, edge, targetRef)
}

// GetEntity fetches a single entity. Returns an error unwrapping to
// ErrNotFound when the entity does not exist.
func (c *Client) GetEntity(ctx context.Context, org, app, collection, id string) (Entity, error) {
	var env struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, entityPath(org, app, collection, id), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Entities) == 0 {
		return nil, fmt.Errorf("get %s/%s/%s/%s: %w", org, app, collection, id, ErrNotFound)
	}
	return env.Entities[0], nil
}

// PutEntity writes an entity to the given address, creating or updating it.
func (c *Client) PutEntity(ctx context.Context, org, app, collection, id string, e Entity) error {
	return c.do(ctx, http.MethodPut, entityPath(org, app, collection, id), e, nil)
}

// DeleteEntity removes an entity by uuid or name.
func (c *Client) DeleteEntity(ctx context.Context, org, app, collection, id string) error {
	return c.do(ctx, http.MethodDelete, entityPath(org, app, collection, id), nil, nil)
}

// PostConnection creates one edge instance.
func (c *Client) PostConnection(ctx context.Context, org, app, sourceRef, edge, targetRef string) error {
	return c.do(ctx, http.MethodPost, ConnectionPath(org, app, sourceRef, edge, targetRef), nil, nil)
}

// DeleteConnection removes one edge instance.
func (c *Client) DeleteConnection(ctx context.Context, org, app, sourceRef, edge, targetRef string) error {
	return c.do(ctx, http.MethodDelete, ConnectionPath(org, app, sourceRef, edge, targetRef), nil, nil)
}

// GetPermissions returns the permission grant strings of a role or group.
func (c *Client) GetPermissions(ctx context.Context, org, app, collection, id string) ([]string, error) {
	var env struct {
		Data []string `json:"data"`
	}
	path := fmt.Sprintf("%s/%s/%s/%s/permissions", org, app, collection, id)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// PostPermission adds one grant string to a role or group.
func (c *Client) PostPermission(ctx context.Context, org, app, collection, id, grant string) error {
	path := fmt.Sprintf("%s/%s/%s/%s/permissions", org, app, collection, id)
	return c.do(ctx, http.MethodPost, path, map[string]string{"permission": grant}, nil)
}

// GetCredentials reads a user's password hash block through the management
// API. Requires superuser basic auth, not the org client credentials.
func (c *Client) GetCredentials(ctx context.Context, app, userUUID string, su BasicAuth) (map[string]any, error) {
	var env struct {
		Credentials map[string]any `json:"credentials"`
	}
	path := fmt.Sprintf("management/%s/users/%s/credentials", app, userUUID)
	if err := c.doBasic(ctx, http.MethodGet, path, su, nil, &env); err != nil {
		return nil, err
	}
	return env.Credentials, nil
}

// PutCredentials installs a previously exported password hash block.
func (c *Client) PutCredentials(ctx context.Context, app, userUUID string, su BasicAuth, creds map[string]any) error {
	path := fmt.Sprintf("management/%s/users/%s/credentials", app, userUUID)
	body := map[string]any{"credentials": creds}
	return c.doBasic(ctx, http.MethodPut, path, su, body, nil)
}

// ListOrgApps returns the org's applications as a name-to-uuid map. Names
// arrive qualified as "org/app"; the qualifier is stripped.
func (c *Client) ListOrgApps(ctx context.Context, org string) (map[string]string, error) {
	var env struct {
		Data map[string]string `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("management/organizations/%s/applications", org), nil, &env); err != nil {
		return nil, err
	}
	apps := make(map[string]string, len(env.Data))
	for name, id := range env.Data {
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		apps[name] = id
	}
	return apps, nil
}

// CreateApp creates an application in the org.
func (c *Client) CreateApp(ctx context.Context, org, app string) error {
	path := fmt.Sprintf("management/organizations/%s/applications", org)
	return c.do(ctx, http.MethodPost, path, map[string]string{"name": app}, nil)
}

// ListAppCollections returns the collection names of an application, read
// from the application entity's metadata.
func (c *Client) ListAppCollections(ctx context.Context, org, app string) ([]string, error) {
	var env struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", org, app), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Entities) == 0 {
		return nil, fmt.Errorf("app %s/%s: %w", org, app, ErrNotFound)
	}
	md := env.Entities[0].Metadata()
	if md == nil {
		return nil, nil
	}
	names := edgeNames(md["collections"])
	return names, nil
}

// do issues one request with client-credential query auth and decodes the
// response envelope into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.request(ctx, method, c.url(path, nil), "", body, out)
}

// doBasic issues one request with HTTP basic auth instead of query params.
func (c *Client) doBasic(ctx context.Context, method, path string, su BasicAuth, body, out any) error {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	return c.request(ctx, method, u, su.Username+":"+su.Password, body, out)
}

// Do issues a request against a fully-formed URL. The paged iterator uses
// it to append cursors to URLs built once up front.
func (c *Client) Do(ctx context.Context, method, fullURL string, body, out any) error {
	return c.request(ctx, method, fullURL, "", body, out)
}

func (c *Client) request(ctx context.Context, method, fullURL, basicAuth string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if basicAuth != "" {
		user, pass, _ := strings.Cut(basicAuth, ":")
		req.SetBasicAuth(user, pass)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(fullURL), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, redact(fullURL), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: redact(fullURL), Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, redact(fullURL), err)
		}
	}
	return nil
}

// redact strips credential query params before a URL lands in an error or
// a log line.
func redact(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	q := u.Query()
	if q.Has("client_secret") {
		q.Set("client_secret", "****")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
