package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Generic-rule registry.
 *
 * The sole entry point of the dispatch core. Rules arrive one by one from
 * the parser; Insert groups them by predicate name into generic rules,
 * assigns monotonically increasing definition ids, and forwards each rule to
 * the per-generic index. Dispatch starts a query against the loaded policy.
 *
 * Single-writer/multi-reader: loading and querying must not interleave. Hot
 * reload builds a fresh registry and swaps it atomically (see
 * internal/core/reload); nothing here mutates during a dispatch.
 */

// GenericRule is the set of all rule definitions sharing a predicate name
// and arity, dispatched as a unit. The first inserted rule fixes the arity.
type GenericRule struct {
	Name  string
	arity int
	rules map[int64]*types.Rule
	order []int64
	index *ruleIndex
}

// Arity returns the parameter arity shared by all definitions.
func (g *GenericRule) Arity() int { return g.arity }

// Len returns the number of definitions.
func (g *GenericRule) Len() int { return len(g.order) }

// Registry owns the generic rules of one loaded policy.
type Registry struct {
	logger   *zap.Logger
	generics map[string]*GenericRule
	nextID   int64
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		generics: make(map[string]*GenericRule),
	}
}

// Insert adds a rule definition, creating its generic rule if absent, and
// returns the assigned definition id. Fails with ErrArityMismatch if the
// arity disagrees with the established one; the generic rule is unchanged on
// failure.
func (r *Registry) Insert(rule *types.Rule) (int64, error) {
	if rule == nil || rule.Name == "" {
		return 0, fmt.Errorf("rule must have a predicate name")
	}
	if rule.Arity() > types.MaxArity {
		return 0, types.ErrArityTooLarge
	}
	for _, p := range rule.Params {
		if p.Specializer != nil && len(p.Specializer.Fields) > types.MaxPatternFields {
			return 0, types.ErrTooManyPatternFields
		}
	}

	g, ok := r.generics[rule.Name]
	if !ok {
		g = &GenericRule{
			Name:  rule.Name,
			arity: rule.Arity(),
			rules: make(map[int64]*types.Rule),
			index: newRuleIndex(rule.Arity()),
		}
		r.generics[rule.Name] = g
	}
	if rule.Arity() != g.arity {
		return 0, fmt.Errorf("%w: %s expects %d parameters, got %d",
			types.ErrArityMismatch, rule.Name, g.arity, rule.Arity())
	}

	r.nextID++
	id := r.nextID
	g.rules[id] = rule
	g.order = append(g.order, id)
	g.index.insert(rule.Params, id)

	r.logger.Debug("rule inserted",
		zap.String("predicate", rule.Name),
		zap.Int("arity", rule.Arity()),
		zap.Int64("definition_id", id),
	)
	return id, nil
}

// Lookup returns the generic rule for a predicate name, or nil.
func (r *Registry) Lookup(name string) *GenericRule {
	return r.generics[name]
}

// Predicates returns the number of distinct predicate names loaded.
func (r *Registry) Predicates() int { return len(r.generics) }

// Dispatch starts a query. An unknown predicate, or an argument count that
// disagrees with the generic rule's arity, yields an immediately-empty
// stream: unknown predicates are false under closed-world semantics, never
// an error.
func (r *Registry) Dispatch(name string, args []*types.Term) *Dispatch {
	g, ok := r.generics[name]
	if !ok || len(args) != g.arity {
		return newDispatch(r.logger, args, nil)
	}
	ids := g.index.lookup(args)
	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, candidate{id: id, rule: g.rules[id]})
	}
	return newDispatch(r.logger, args, candidates)
}
