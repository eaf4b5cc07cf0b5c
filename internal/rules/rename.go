package rules

import (
	"strconv"
	"sync/atomic"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Per-activation variable renaming.
 *
 * Rule definitions are shared, immutable terms. Each candidate check unifies
 * the rule's parameter terms directly with the query arguments, so rule
 * variables must not collide with query variables (or with another
 * activation of the same rule in a recursive call). Every activation
 * therefore works on an alpha-variant of the rule whose variables carry a
 * process-unique suffix. The RuleReady event hands the evaluator that
 * variant so the seeded bindings and the body share one namespace.
 */

var activationSerial atomic.Int64

// renameRule returns an alpha-variant of r with process-unique variable
// names. Definition identity is unaffected; the variant exists only for one
// activation.
func renameRule(r *types.Rule) *types.Rule {
	suffix := "@" + strconv.FormatInt(activationSerial.Add(1), 10)
	out := &types.Rule{
		Name:   r.Name,
		Params: make([]types.Parameter, len(r.Params)),
		Body:   renameTerm(r.Body, suffix),
		Pos:    r.Pos,
	}
	for i, p := range r.Params {
		out.Params[i] = types.Parameter{
			Value:       renameTerm(p.Value, suffix),
			Specializer: renameTerm(p.Specializer, suffix),
		}
	}
	return out
}

func renameTerm(t *types.Term, suffix string) *types.Term {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case types.KindVariable:
		out := *t
		out.Name = t.Name + suffix
		return &out
	case types.KindList, types.KindCall, types.KindExpression:
		if len(t.Items) == 0 {
			return t
		}
		out := *t
		out.Items = make([]*types.Term, len(t.Items))
		for i, it := range t.Items {
			out.Items[i] = renameTerm(it, suffix)
		}
		return &out
	case types.KindDict, types.KindPattern:
		if len(t.Fields) == 0 {
			return t
		}
		out := *t
		out.Fields = make(map[string]*types.Term, len(t.Fields))
		for k, v := range t.Fields {
			out.Fields[k] = renameTerm(v, suffix)
		}
		return &out
	default:
		return t
	}
}
