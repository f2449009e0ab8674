package meta

import (
	"context"
	"sync"
)

// metadata is a mutable bag shared by every context derived from the one Begin returned.
type metadata struct {
	carrier map[interface{}]interface{}
	mu      sync.RWMutex
}

func (c *metadata) Value(key interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.carrier[key]
}

func (c *metadata) WithValue(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carrier[key] = value
}

type contextKey struct{}

var metaContextKey = contextKey{}

type actionIDKey struct{}

// ActionIDKey identifies one user-triggered action across every log line it produces.
var ActionIDKey = actionIDKey{}

// Begin injects a metadata bag into parent. Calling it again on a context that already carries one
// returns parent unchanged, so it is safe to call at every entry point.
func Begin(parent context.Context) context.Context {
	if parent.Value(metaContextKey) != nil {
		return parent
	}
	return context.WithValue(parent, metaContextKey, &metadata{
		carrier: make(map[interface{}]interface{}),
	})
}

func metadataFrom(parent context.Context) *metadata {
	if parent == nil {
		return nil
	}
	value, _ := parent.Value(metaContextKey).(*metadata)
	return value
}

// WithValue stores key/val in the metadata bag; no-op when Begin was never called.
func WithValue(parent context.Context, key, val interface{}) {
	meta := metadataFrom(parent)
	if meta == nil {
		return
	}
	meta.WithValue(key, val)
}

func Value(parent context.Context, key interface{}) interface{} {
	meta := metadataFrom(parent)
	if meta == nil {
		return nil
	}
	return meta.Value(key)
}
