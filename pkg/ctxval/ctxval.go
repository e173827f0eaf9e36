// Package ctxval carries log fields that handlers add while serving a request
// and the access log writes once the request is done.
package ctxval

import (
	"context"
	"sync"
)

// Fields is an ordered set of log fields. Setting a key again replaces its
// value and keeps its position.
type Fields struct {
	mu     sync.Mutex
	keys   []string
	values map[string]any
}

type fieldsKey struct{}

// Wrap returns ctx with an empty Fields attached. A context that already has
// one is returned as is.
func Wrap(ctx context.Context) context.Context {
	if _, ok := From(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, fieldsKey{}, &Fields{values: make(map[string]any)})
}

// From returns the Fields attached to ctx.
func From(ctx context.Context) (*Fields, bool) {
	f, ok := ctx.Value(fieldsKey{}).(*Fields)
	return f, ok
}

// Set records key on the Fields of ctx. It is a no-op on an unwrapped context
// or for an empty key.
func Set(ctx context.Context, key string, value any) {
	f, ok := From(ctx)
	if !ok || key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

func Get(ctx context.Context, key string) (any, bool) {
	f, ok := From(ctx)
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// KeysAndValues flattens the fields in insertion order, ready for a
// structured logger.
func (f *Fields) KeysAndValues() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, 0, len(f.keys)*2)
	for _, k := range f.keys {
		out = append(out, k, f.values[k])
	}
	return out
}
