// Package singleflight coalesces concurrent calls for the same key into a
// single execution. It is used by the credential cache to guarantee at most
// one secret-store fetch is in flight per credential identity; waiters block
// on the owner's result but remain individually cancellable.
package singleflight

import (
	"context"
	"sync"
)

// Group manages in-flight calls keyed by string. The zero value is not
// usable; construct with New.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	done chan struct{}
	val  any
	err  error
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, ensuring only one execution is in flight for key at a
// time. Duplicate callers wait for the owner's result. shared reports
// whether the result came from another caller's execution. A waiter whose
// context is cancelled unblocks with ctx.Err() without affecting the owner.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (v any, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			return nil, ctx.Err(), true
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err, false
}

// Forget drops the in-flight call for key so the next Do starts a fresh
// execution. Existing waiters still receive the old result.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
