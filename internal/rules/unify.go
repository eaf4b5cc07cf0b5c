package rules

import (
	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Unification.
 *
 * Binary structural matching under a binding environment. Symmetric and
 * destructive: successful sub-unifications extend the environment even if a
 * later step fails; callers discard the environment on failure.
 *
 * Semantics:
 *   - Variable + anything binds (after walking both sides).
 *   - Ground + ground compares structurally; numbers by mathematical value,
 *     strings byte-exact.
 *   - Compounds recurse; arity mismatch fails.
 *   - Dict + Dict requires identical key sets (symmetric structural match).
 *   - Pattern + Dict matches every key present on the pattern side against
 *     the dict; extra dict keys are permitted. Pattern field matching of
 *     host instances lives in the filter, which owns the host round-trips.
 *   - Occurs check is mandatory: binding a variable to a compound containing
 *     it returns ErrOccursCheck. Without it the specificity sort can loop on
 *     self-referential terms.
 */

// Unify attempts to unify x and y under b. Returns (true, nil) on success,
// (false, nil) on ordinary mismatch, and (false, ErrOccursCheck) on a cyclic
// binding attempt.
func Unify(b Bindings, x, y *types.Term) (bool, error) {
	x = b.Walk(x)
	y = b.Walk(y)
	if x == nil || y == nil {
		return false, nil
	}

	if x.Kind == types.KindVariable && y.Kind == types.KindVariable && x.Name == y.Name {
		return true, nil
	}
	if x.Kind == types.KindVariable {
		return bindChecked(b, x, y)
	}
	if y.Kind == types.KindVariable {
		return bindChecked(b, y, x)
	}

	// Pattern/Dict pairs have an unambiguous pattern side even though the
	// operation is otherwise symmetric.
	if x.Kind == types.KindPattern && y.Kind == types.KindDict {
		return unifyPatternDict(b, x, y)
	}
	if y.Kind == types.KindPattern && x.Kind == types.KindDict {
		return unifyPatternDict(b, y, x)
	}

	if x.Kind != y.Kind {
		return false, nil
	}

	switch x.Kind {
	case types.KindSymbol:
		return x.Name == y.Name, nil
	case types.KindString:
		return x.Str == y.Str, nil
	case types.KindNumber:
		if !x.IsFloat && !y.IsFloat {
			return x.Int == y.Int, nil
		}
		return x.NumberValue() == y.NumberValue(), nil
	case types.KindBoolean:
		return x.Bool == y.Bool, nil
	case types.KindList:
		return unifyItems(b, x.Items, y.Items)
	case types.KindDict:
		if len(x.Fields) != len(y.Fields) {
			return false, nil
		}
		for k, xv := range x.Fields {
			yv, ok := y.Fields[k]
			if !ok {
				return false, nil
			}
			ok, err := Unify(b, xv, yv)
			if !ok || err != nil {
				return ok, err
			}
		}
		return true, nil
	case types.KindInstance:
		return x.Handle == y.Handle && x.Name == y.Name, nil
	case types.KindPattern:
		if x.Name != y.Name || len(x.Fields) != len(y.Fields) {
			return false, nil
		}
		for k, xv := range x.Fields {
			yv, ok := y.Fields[k]
			if !ok {
				return false, nil
			}
			ok, err := Unify(b, xv, yv)
			if !ok || err != nil {
				return ok, err
			}
		}
		return true, nil
	case types.KindCall, types.KindExpression:
		if x.Name != y.Name {
			return false, nil
		}
		return unifyItems(b, x.Items, y.Items)
	default:
		return false, nil
	}
}

func unifyItems(b Bindings, xs, ys []*types.Term) (bool, error) {
	if len(xs) != len(ys) {
		return false, nil
	}
	for i := range xs {
		ok, err := Unify(b, xs[i], ys[i])
		if !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

// unifyPatternDict matches every pattern field against the dict; extra dict
// keys are permitted.
func unifyPatternDict(b Bindings, pat, dict *types.Term) (bool, error) {
	for k, pv := range pat.Fields {
		dv, ok := dict.Fields[k]
		if !ok {
			return false, nil
		}
		ok, err := Unify(b, pv, dv)
		if !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

// bindChecked binds v to t after the occurs check.
func bindChecked(b Bindings, v, t *types.Term) (bool, error) {
	if occurs(b, v.Name, t) {
		return false, types.ErrOccursCheck
	}
	b.Bind(v.Name, t)
	return true, nil
}

// occurs reports whether the variable named name appears in t under b.
func occurs(b Bindings, name string, t *types.Term) bool {
	t = b.Walk(t)
	if t == nil {
		return false
	}
	switch t.Kind {
	case types.KindVariable:
		return t.Name == name
	case types.KindList, types.KindCall, types.KindExpression:
		for _, it := range t.Items {
			if occurs(b, name, it) {
				return true
			}
		}
		return false
	case types.KindDict, types.KindPattern:
		for _, v := range t.Fields {
			if occurs(b, name, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
