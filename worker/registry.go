// Package worker implements the process that hosts the target object: a
// factory registry, a reflection-based dispatcher, and the sequential loop
// that reads call envelopes, invokes the hosted instance, and writes
// response envelopes back.
package worker

import (
	"fmt"
	"reflect"
	"sync"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// Registry maps factory names to constructor functions. A Construct
// envelope names a factory; the worker builds its hosted instance by
// calling that factory with the envelope's decoded arguments.
//
// Factories are plain functions returning the instance, optionally with an
// error: func(...) T or func(...) (T, error). An optional leading
// context.Context parameter receives the loop context, and argument decoding
// follows the same rules as method dispatch (see dispatch.go).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]reflect.Value
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]reflect.Value)}
}

// Register adds a factory under the given name. Registering a second
// factory under the same name replaces the first.
func (r *Registry) Register(name string, factory any) error {
	if name == "" {
		return fmt.Errorf("worker: empty factory name")
	}
	fv := reflect.ValueOf(factory)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return fmt.Errorf("worker: factory %q must be a function, got %T", name, factory)
	}
	ft := fv.Type()
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) == errType {
			return fmt.Errorf("worker: factory %q must return an instance, not only an error", name)
		}
	case 2:
		if ft.Out(1) != errType {
			return fmt.Errorf("worker: factory %q second return value must be error", name)
		}
	default:
		return fmt.Errorf("worker: factory %q must return T or (T, error)", name)
	}

	r.mu.Lock()
	r.factories[name] = fv
	r.mu.Unlock()
	return nil
}

// MustRegister is Register that panics on a malformed factory. Intended for
// worker-binary init paths where a bad factory is a programming error.
func (r *Registry) MustRegister(name string, factory any) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(name string) (reflect.Value, bool) {
	r.mu.RLock()
	fv, ok := r.factories[name]
	r.mu.RUnlock()
	return fv, ok
}

// Names returns the registered factory names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
