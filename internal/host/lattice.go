// Package host provides a concrete embedding application for the dispatch
// core: a class lattice, registered instances, and answers to the four host
// questions. Real embeddings implement eval.Host themselves; this one backs
// the CLI and tests.
package host

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quillpolicy/quill/internal/types"
)

// DefaultSubtypeCacheSize bounds the cross-dispatch subtype answer cache.
const DefaultSubtypeCacheSize = 1024

// Instance is one registered application object, exposed to policies as an
// opaque handle plus attribute values.
type Instance struct {
	Handle string
	Class  string
	Fields map[string]*types.Term
}

type subKey struct {
	sub   string
	super string
}

// Lattice is a host-owned class hierarchy with registered instances.
//
// Subtype answers are cached across dispatches in an LRU; the cache is
// invalidated whenever a class is (re-)registered, which keeps cached
// answers consistent with the lattice the next dispatch sees.
type Lattice struct {
	mu        sync.RWMutex
	parents   map[string][]string
	instances map[string]*Instance
	cache     *lru.Cache[subKey, bool]
}

// NewLattice creates an empty lattice. cacheSize <= 0 disables the
// cross-dispatch cache.
func NewLattice(cacheSize int) *Lattice {
	l := &Lattice{
		parents:   make(map[string][]string),
		instances: make(map[string]*Instance),
	}
	if cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		l.cache, _ = lru.New[subKey, bool](cacheSize)
	}
	return l
}

// RegisterClass declares a class and its direct superclasses. Re-registering
// replaces the parent list and purges the subtype cache.
func (l *Lattice) RegisterClass(name string, parents ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parents[name] = append([]string(nil), parents...)
	if l.cache != nil {
		l.cache.Purge()
	}
}

// RegisterInstance makes an application object visible to policies.
func (l *Lattice) RegisterInstance(handle, class string, fields map[string]*types.Term) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fields == nil {
		fields = map[string]*types.Term{}
	}
	l.instances[handle] = &Instance{Handle: handle, Class: class, Fields: fields}
}

// InstanceTerm returns the opaque term for a registered handle.
func (l *Lattice) InstanceTerm(handle string) (*types.Term, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instances[handle]
	if !ok {
		return nil, false
	}
	return types.NewInstance(inst.Handle, inst.Class), true
}

// Classes returns the number of registered classes.
func (l *Lattice) Classes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.parents)
}

// IsaClass reports whether the instance belongs to the class.
func (l *Lattice) IsaClass(handle, class string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instances[handle]
	if !ok {
		return false, fmt.Errorf("%w: unknown instance %q", types.ErrUnknownClass, handle)
	}
	if _, ok := l.parents[class]; !ok {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownClass, class)
	}
	return l.reachable(inst.Class, class), nil
}

// IsSubclass reports whether sub is class or a transitive subclass of super.
func (l *Lattice) IsSubclass(sub, super string) (bool, error) {
	if l.cache != nil {
		if v, ok := l.cache.Get(subKey{sub, super}); ok {
			return v, nil
		}
	}
	l.mu.RLock()
	if _, ok := l.parents[sub]; !ok {
		l.mu.RUnlock()
		return false, fmt.Errorf("%w: %q", types.ErrUnknownClass, sub)
	}
	if _, ok := l.parents[super]; !ok {
		l.mu.RUnlock()
		return false, fmt.Errorf("%w: %q", types.ErrUnknownClass, super)
	}
	v := l.reachable(sub, super)
	l.mu.RUnlock()
	if l.cache != nil {
		l.cache.Add(subKey{sub, super}, v)
	}
	return v, nil
}

// IsaClassField reports whether the named attribute belongs to the class.
func (l *Lattice) IsaClassField(handle, field, class string) (bool, error) {
	v, err := l.AttrLookup(handle, field)
	if err != nil {
		return false, err
	}
	if v.Kind == types.KindInstance {
		return l.IsaClass(v.Handle, class)
	}
	// Core values check against the built-in class names without a
	// lattice walk.
	switch class {
	case "String":
		return v.Kind == types.KindString, nil
	case "Integer":
		return v.Kind == types.KindNumber && !v.IsFloat, nil
	case "Float":
		return v.Kind == types.KindNumber && v.IsFloat, nil
	case "Number":
		return v.Kind == types.KindNumber, nil
	case "Boolean":
		return v.Kind == types.KindBoolean, nil
	case "List":
		return v.Kind == types.KindList, nil
	case "Dictionary":
		return v.Kind == types.KindDict, nil
	}
	return false, nil
}

// AttrLookup fetches an instance attribute as a term.
func (l *Lattice) AttrLookup(handle, field string) (*types.Term, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instances[handle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown instance %q", types.ErrUnknownClass, handle)
	}
	v, ok := inst.Fields[field]
	if !ok {
		return nil, fmt.Errorf("instance %q has no attribute %q", handle, field)
	}
	return v, nil
}

// reachable walks the parent graph from sub looking for super. Visited
// tracking terminates even if the host declared a cycle.
func (l *Lattice) reachable(sub, super string) bool {
	if sub == super {
		return true
	}
	visited := map[string]bool{sub: true}
	queue := append([]string(nil), l.parents[sub]...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if visited[c] {
			continue
		}
		visited[c] = true
		if c == super {
			return true
		}
		queue = append(queue, l.parents[c]...)
	}
	return false
}
