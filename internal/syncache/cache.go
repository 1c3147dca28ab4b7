// Package syncache implements the per-user TTL cache with write-behind
// persistence. Each Category owns one kind of mutable user state
// (configuration, preference flags, command bindings) as a string-keyed map.
//
// Reads younger than the TTL never touch the store. Writes merge into the
// cached value synchronously, so the next local read sees them immediately,
// and persist remotely off the calling path. Entry mutation is serialized
// per identity: a write can never be silently overwritten by a concurrently
// completing read's refetch.
package syncache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/archeonlabs/cloudcore/internal/logging"
	"github.com/archeonlabs/cloudcore/internal/taskq"
)

// DefaultTTL bounds staleness for reads through this process.
const DefaultTTL = 300 * time.Second

// Backend supplies the remote side of one category.
type Backend[T any] struct {
	// Fetch reads the remote value for an identity.
	Fetch func(ctx context.Context, id string) (map[string]T, error)

	// Persist merges the pending delta into the remote copy. It runs on the
	// dispatcher and owns its arguments.
	Persist func(ctx context.Context, id string, pending map[string]T) error

	// Defaults returns the complete default value for an identity. A read
	// never returns a partial record lacking these fields.
	Defaults func(id string) map[string]T
}

type entry[T any] struct {
	mu        sync.Mutex
	value     map[string]T
	refreshed time.Time
}

type Category[T any] struct {
	name    string
	ttl     time.Duration
	backend Backend[T]
	tasks   *taskq.Dispatcher
	log     logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[T]
}

func NewCategory[T any](name string, ttl time.Duration, backend Backend[T], tasks *taskq.Dispatcher, log logging.Logger) *Category[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Category[T]{
		name:    name,
		ttl:     ttl,
		backend: backend,
		tasks:   tasks,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

func (c *Category[T]) entryFor(id string) *entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry[T]{}
		c.entries[id] = e
	}
	return e
}

// Get returns the identity's value. A fresh entry is served without I/O; a
// stale or absent one is refetched, merged over the defaults and cached. An
// unreachable store yields the defaults without caching them, so the next
// read tries the store again.
func (c *Category[T]) Get(ctx context.Context, id string) map[string]T {
	e := c.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.refreshed.IsZero() && c.now().Sub(e.refreshed) < c.ttl {
		return clone(e.value)
	}

	fetched, err := c.backend.Fetch(ctx, id)
	if err != nil {
		c.log.Warn(ctx, "cache refetch failed, serving defaults", "category", c.name, "error", err)
		return c.backend.Defaults(id)
	}

	full := overlay(c.backend.Defaults(id), fetched)
	e.value = full
	e.refreshed = c.now()
	return clone(full)
}

// Put merges partial into the cached value (or the defaults when nothing is
// cached), restamps the entry so the write is immediately visible locally,
// and schedules the remote merge-and-persist.
func (c *Category[T]) Put(ctx context.Context, id string, partial map[string]T) {
	e := c.entryFor(id)
	e.mu.Lock()
	base := e.value
	if e.refreshed.IsZero() {
		base = c.backend.Defaults(id)
	}
	e.value = overlay(clone(base), partial)
	e.refreshed = c.now()
	e.mu.Unlock()

	pending := clone(partial)
	persist := c.backend.Persist
	c.tasks.Submit(fmt.Sprintf("persist-%s", c.name), func(ctx context.Context) error {
		return persist(ctx, id, pending)
	})
}

// Flush drops the cached entry for one identity, forcing the next read to
// hit the store.
func (c *Category[T]) Flush(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// FlushAll drops every cached entry.
func (c *Category[T]) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
}

// Size reports the number of cached identities.
func (c *Category[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func clone[T any](m map[string]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func overlay[T any](dst, src map[string]T) map[string]T {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
