// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// QueryOptions tune a paged query. Zero values fall back to defaults.
type QueryOptions struct {
	// MaxAttempts is the per-page request ceiling, transport and 5xx
	// failures included.
	MaxAttempts int
	// RetrySleep is the pause between attempts on the same page.
	RetrySleep time.Duration
	// PageDelay is an optional pause after each fetched page, used to
	// throttle load on the source endpoint.
	PageDelay time.Duration
}

const (
	defaultMaxAttempts = 10
	defaultRetrySleep  = 5 * time.Second
)

// Query iterates a collection query page by page, following the response
// cursor until the server stops returning one. Usage:
//
//	it := client.Query(url, usergrid.QueryOptions{})
//	for it.Next(ctx) {
//		e := it.Entity()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
//
// A 404 whose body carries one of Usergrid's not-found error classes
// ends the iteration cleanly with no error: a collection that does not
// exist yields zero entities. Any other 404 (a mistyped base URL, a
// proxy) surfaces through Err. Transport errors and 5xx responses are
// retried per page up to MaxAttempts; exhausting the ceiling surfaces
// through Err and ends the iteration.
type Query struct {
	client *Client
	url    string
	opts   QueryOptions

	page   []Entity
	pos    int
	cursor string
	done   bool
	err    error
}

// Query starts a paged iteration over a fully-formed query URL (built
// with CollectionQueryURL, ConnectionListURL, or ConnectingListURL).
func (c *Client) Query(fullURL string, opts QueryOptions) *Query {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetrySleep <= 0 {
		opts.RetrySleep = defaultRetrySleep
	}
	return &Query{client: c, url: fullURL, opts: opts}
}

// Next advances to the next entity, fetching pages as needed. It returns
// false when the iteration is exhausted, failed, or the context is done;
// check Err afterwards.
func (q *Query) Next(ctx context.Context) bool {
	if q.err != nil {
		return false
	}
	if q.pos < len(q.page) {
		q.pos++
		return true
	}
	for !q.done {
		if err := q.fetchPage(ctx); err != nil {
			q.err = err
			return false
		}
		if len(q.page) > 0 {
			q.pos = 1
			return true
		}
	}
	return false
}

// Entity returns the entity at the current position. Only valid after a
// true return from Next.
func (q *Query) Entity() Entity { return q.page[q.pos-1] }

// Err returns the first fatal error hit during iteration, or nil.
func (q *Query) Err() error { return q.err }

// absentResource reports whether a 404 actually means "this resource
// does not exist" rather than a misrouted request: Usergrid names the
// failure class in the response body.
func absentResource(se *StatusError) bool {
	if !errors.Is(se, ErrNotFound) {
		return false
	}
	switch se.ErrorCode() {
	case "service_resource_not_found", "organization_application_not_found", "entity_not_found":
		return true
	}
	return false
}

func (q *Query) fetchPage(ctx context.Context) error {
	pageURL := q.url
	if q.cursor != "" {
		pageURL += "&cursor=" + url.QueryEscape(q.cursor)
	}
	var env struct {
		Entities []Entity `json:"entities"`
		Cursor   string   `json:"cursor"`
	}
	backoff := retry.WithMaxRetries(uint64(q.opts.MaxAttempts-1), retry.NewConstant(q.opts.RetrySleep))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		env.Entities = nil
		env.Cursor = ""
		if err := q.client.Do(ctx, "GET", pageURL, nil, &env); err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Transient() {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && absentResource(se) {
			q.done = true
			q.page = nil
			q.pos = 0
			return nil
		}
		return fmt.Errorf("fetch page: %w", err)
	}
	q.page = env.Entities
	q.pos = 0
	q.cursor = env.Cursor
	if q.cursor == "" {
		q.done = true
	}
	if q.opts.PageDelay > 0 && !q.done {
		select {
		case <-time.After(q.opts.PageDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
