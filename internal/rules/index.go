package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Rule index.
 *
 * A sparse trie of depth = arity. Each internal node carries a literal map
 * (constant key -> child) and at most one wildcard child. Leaves carry the
 * set of definition ids whose rules reached that path.
 *
 * Insertion classifies each parameter:
 *   1. Ground literal (Symbol, String, Number, Boolean, or a ground list of
 *      such within MaxIndexedListLen) with no specializer: literal edge
 *      keyed by the canonical encoding of the value. Ground lists also take
 *      the wildcard edge, since a pattern rule at the same position could
 *      match arguments the tuple key cannot.
 *   2. Anything else: wildcard edge.
 *
 * Lookup descends with the query arguments: ground argument -> literal edge
 * for its value (if present) plus the wildcard edge; non-ground argument ->
 * every literal edge plus the wildcard edge, since a variable unifies with
 * any constant. The union of leaf sets reached is the candidate set,
 * a superset of the applicable set. Lookup never fails.
 */

type indexNode struct {
	literals map[string]*indexNode
	wildcard *indexNode
	ruleIDs  []int64 // populated at depth == arity
}

type ruleIndex struct {
	arity int
	root  *indexNode
}

func newRuleIndex(arity int) *ruleIndex {
	return &ruleIndex{arity: arity, root: &indexNode{}}
}

// insert threads the rule's parameters through the trie, creating edges as
// needed, and records id at every leaf reached.
func (ix *ruleIndex) insert(params []types.Parameter, id int64) {
	ix.insertFrom(ix.root, params, 0, id)
}

func (ix *ruleIndex) insertFrom(n *indexNode, params []types.Parameter, depth int, id int64) {
	if depth == ix.arity {
		n.ruleIDs = append(n.ruleIDs, id)
		return
	}
	p := params[depth]
	key, literal := literalEdgeKey(p)
	if literal {
		if n.literals == nil {
			n.literals = make(map[string]*indexNode)
		}
		child, ok := n.literals[key]
		if !ok {
			child = &indexNode{}
			n.literals[key] = child
		}
		ix.insertFrom(child, params, depth+1, id)
		// Ground lists additionally take the wildcard edge.
		if p.Value.Kind == types.KindList {
			ix.insertFrom(ix.wildcardChild(n), params, depth+1, id)
		}
		return
	}
	ix.insertFrom(ix.wildcardChild(n), params, depth+1, id)
}

func (ix *ruleIndex) wildcardChild(n *indexNode) *indexNode {
	if n.wildcard == nil {
		n.wildcard = &indexNode{}
	}
	return n.wildcard
}

// lookup returns the candidate definition ids for args, ascending.
func (ix *ruleIndex) lookup(args []*types.Term) []int64 {
	seen := make(map[int64]struct{})
	ix.lookupFrom(ix.root, args, 0, seen)
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (ix *ruleIndex) lookupFrom(n *indexNode, args []*types.Term, depth int, seen map[int64]struct{}) {
	if n == nil {
		return
	}
	if depth == ix.arity {
		for _, id := range n.ruleIDs {
			seen[id] = struct{}{}
		}
		return
	}
	arg := args[depth]
	if arg == nil || !arg.IsGround() {
		// A non-ground argument cannot rule out any literal: a variable
		// unifies with every constant. Take every edge.
		for _, child := range n.literals {
			ix.lookupFrom(child, args, depth+1, seen)
		}
		ix.lookupFrom(n.wildcard, args, depth+1, seen)
		return
	}
	if n.literals != nil {
		if key, ok := argEdgeKey(arg); ok {
			ix.lookupFrom(n.literals[key], args, depth+1, seen)
		}
	}
	ix.lookupFrom(n.wildcard, args, depth+1, seen)
}

// literalEdgeKey classifies a parameter for insertion. Only ground,
// unspecialized literal terms get a literal edge.
func literalEdgeKey(p types.Parameter) (string, bool) {
	if p.Specializer != nil || p.Value == nil {
		return "", false
	}
	return termEdgeKey(p.Value)
}

// argEdgeKey classifies a query argument for lookup.
func argEdgeKey(t *types.Term) (string, bool) {
	if t == nil {
		return "", false
	}
	return termEdgeKey(t)
}

// termEdgeKey produces the canonical, unambiguous encoding of an indexable
// ground literal. Each component is length-prefixed so that composite keys
// (list tuples) cannot collide with scalar keys.
func termEdgeKey(t *types.Term) (string, bool) {
	switch t.Kind {
	case types.KindSymbol:
		return enc('y', t.Name), true
	case types.KindString:
		return enc('s', t.Str), true
	case types.KindNumber:
		return enc('n', canonicalNumber(t)), true
	case types.KindBoolean:
		if t.Bool {
			return enc('b', "1"), true
		}
		return enc('b', "0"), true
	case types.KindList:
		if len(t.Items) > types.MaxIndexedListLen {
			return "", false
		}
		var sb strings.Builder
		for _, it := range t.Items {
			k, ok := termEdgeKey(it)
			if !ok {
				return "", false
			}
			sb.WriteString(k)
		}
		return enc('l', sb.String()), true
	default:
		return "", false
	}
}

func enc(tag byte, payload string) string {
	return string(tag) + strconv.Itoa(len(payload)) + ":" + payload
}

// canonicalNumber renders a number so that equal mathematical values share a
// key: floats holding exact integers encode as those integers.
func canonicalNumber(t *types.Term) string {
	if !t.IsFloat {
		return strconv.FormatInt(t.Int, 10)
	}
	f := t.Flt
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
