// Package rules implements the generic-rule dispatch core: the binding
// environment and unifier, the sparse-trie rule index, the applicability
// filter, the suspendable specificity sort, and the registry that ties them
// together behind a resumable dispatch handle.
package rules

import (
	"github.com/quillpolicy/quill/internal/types"
)

// Bindings is the scratch substitution built during one dispatch. Append-only
// while a unification is in flight; a failed unification discards the whole
// environment rather than undoing individual entries. Local to one dispatch.
type Bindings map[string]*types.Term

// NewBindings returns an empty environment.
func NewBindings() Bindings { return make(Bindings) }

// Bind records a variable substitution. The caller has already walked the
// variable, so no chain shortening is needed here.
func (b Bindings) Bind(name string, t *types.Term) {
	b[name] = t
}

// Walk dereferences variable chains until it reaches a non-variable term or
// an unbound variable. Never returns nil for a non-nil input.
func (b Bindings) Walk(t *types.Term) *types.Term {
	for t != nil && t.Kind == types.KindVariable {
		next, ok := b[t.Name]
		if !ok {
			return t
		}
		t = next
	}
	return t
}

// Resolve walks a term and substitutes bound variables transitively,
// producing the deepest available view of the term. Unbound variables are
// left in place.
func (b Bindings) Resolve(t *types.Term) *types.Term {
	t = b.Walk(t)
	if t == nil {
		return nil
	}
	switch t.Kind {
	case types.KindList, types.KindCall, types.KindExpression:
		if len(t.Items) == 0 {
			return t
		}
		items := make([]*types.Term, len(t.Items))
		for i, it := range t.Items {
			items[i] = b.Resolve(it)
		}
		out := *t
		out.Items = items
		return &out
	case types.KindDict, types.KindPattern:
		if len(t.Fields) == 0 {
			return t
		}
		fields := make(map[string]*types.Term, len(t.Fields))
		for k, v := range t.Fields {
			fields[k] = b.Resolve(v)
		}
		out := *t
		out.Fields = fields
		return &out
	default:
		return t
	}
}

// Clone copies the environment. Used when a dispatch hands bindings to the
// evaluator: the evaluator's copy is seeded from the successful unification
// and outlives the dispatch's own scratch state.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
