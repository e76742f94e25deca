// Package singleflight coalesces concurrent calls that share a key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group runs at most one call per key at a time. Callers arriving while a
// call is in flight wait for it and receive its result.
//
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed after val/err are set
	val  V
	err  error
	dups int
}

// Do runs fn for key unless a call for key is already running, in which
// case it waits for that call. shared reports whether the result was
// handed to more than one caller.
//
// A cancelled ctx releases a waiting caller with ctx.Err(); the running fn
// is not interrupted. A panic in fn is returned to every caller as an error.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), true
		}
	}
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	g.run(key, c, fn)
	return c.val, c.err, c.dups > 0
}

func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("singleflight: panic: %v", r)
		}
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}

// Forget drops key's in-flight marker, so the next Do starts a fresh call
// even if the current one has not returned. Current waiters still receive
// its result.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
