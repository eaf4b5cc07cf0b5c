// Package eval drives dispatches to a yes/no decision. It pulls events from
// a dispatch handle, proxies host questions to the embedding application,
// and executes the bodies of selected rules depth-first.
package eval

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/rules"
	"github.com/quillpolicy/quill/internal/types"
)

// MaxGoalDepth bounds nested predicate calls to keep runaway recursion from
// exhausting the stack.
const MaxGoalDepth = 128

// ErrGoalDepth indicates a query exceeded MaxGoalDepth nested calls.
var ErrGoalDepth = errors.New("query exceeds maximum goal depth")

// Host is the embedding application as seen by the evaluator. Errors
// returned here terminate the dispatch (an unknown class is the usual case).
type Host interface {
	IsaClass(handle, class string) (bool, error)
	IsSubclass(sub, super string) (bool, error)
	IsaClassField(handle, field, class string) (bool, error)
	AttrLookup(handle, field string) (*types.Term, error)
}

// Evaluator answers queries against one loaded registry.
type Evaluator struct {
	reg    *rules.Registry
	host   Host
	logger *zap.Logger
}

// New creates an evaluator. host may be nil for policies that never touch
// application instances; a question arriving anyway fails the query. A nil
// logger disables logging.
func New(reg *rules.Registry, host Host, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{reg: reg, host: host, logger: logger}
}

// Query resolves a predicate call. True means some applicable rule's body
// succeeded; an empty or exhausted stream is false (closed world).
func (e *Evaluator) Query(name string, args []*types.Term) (bool, error) {
	ok, _, err := e.QueryStats(name, args)
	return ok, err
}

// QueryStats resolves a predicate call and also reports how many applicable
// rules the top-level dispatch emitted before the query resolved.
func (e *Evaluator) QueryStats(name string, args []*types.Term) (bool, int, error) {
	tried := 0
	ok, err := e.queryGoal(name, args, 0, &tried)
	if err != nil {
		return false, tried, err
	}
	e.logger.Debug("query resolved",
		zap.String("predicate", name),
		zap.Bool("allowed", ok),
		zap.Int("rules_tried", tried),
	)
	return ok, tried, nil
}

func (e *Evaluator) queryGoal(name string, args []*types.Term, depth int, tried *int) (bool, error) {
	if depth > MaxGoalDepth {
		return false, ErrGoalDepth
	}
	d := e.reg.Dispatch(name, args)
	for {
		ev := d.Next()
		switch ev.Kind {
		case rules.EventHostQuestion:
			if err := e.answer(d, ev.Question); err != nil {
				return false, err
			}
		case rules.EventRuleReady:
			if depth == 0 && tried != nil {
				*tried++
			}
			ok, err := e.evalBody(ev.Rule.Body, ev.Bindings, depth)
			if err != nil {
				return false, err
			}
			if ok {
				// The dispatch is dropped mid-stream; the tail is
				// never ordered.
				return true, nil
			}
		case rules.EventDone:
			return false, nil
		case rules.EventError:
			return false, ev.Err
		}
	}
}

// answer proxies one question to the host and feeds the result back.
func (e *Evaluator) answer(d *rules.Dispatch, q *rules.Question) error {
	if e.host == nil {
		return d.AnswerError(q.CorrelationID,
			fmt.Errorf("%w: no host registered", types.ErrUnknownClass))
	}
	var (
		value any
		err   error
	)
	switch q.Kind {
	case rules.QuestionIsaClass:
		value, err = e.host.IsaClass(q.Handle, q.Class)
	case rules.QuestionIsSubclass:
		value, err = e.host.IsSubclass(q.Class, q.OtherClass)
	case rules.QuestionIsaClassField:
		value, err = e.host.IsaClassField(q.Handle, q.Field, q.Class)
	case rules.QuestionAttrLookup:
		value, err = e.host.AttrLookup(q.Handle, q.Field)
	default:
		err = fmt.Errorf("%w: unsupported question kind %v", types.ErrHostProtocol, q.Kind)
	}
	if err != nil {
		return d.AnswerError(q.CorrelationID, err)
	}
	return d.Answer(q.CorrelationID, value)
}

// evalBody resolves one rule body under the activation's bindings.
func (e *Evaluator) evalBody(t *types.Term, b rules.Bindings, depth int) (bool, error) {
	if t == nil {
		return true, nil
	}
	switch t.Kind {
	case types.KindBoolean:
		return t.Bool, nil
	case types.KindVariable:
		w := b.Walk(t)
		if w.Kind == types.KindVariable {
			return false, fmt.Errorf("unbound subgoal %s", types.Format(t))
		}
		return e.evalBody(w, b, depth)
	case types.KindCall:
		args := make([]*types.Term, len(t.Items))
		for i, a := range t.Items {
			args[i] = b.Resolve(a)
		}
		return e.queryGoal(t.Name, args, depth+1, nil)
	case types.KindExpression:
		return e.evalExpression(t, b, depth)
	default:
		return false, fmt.Errorf("term %s is not a subgoal", types.Format(t))
	}
}

func (e *Evaluator) evalExpression(t *types.Term, b rules.Bindings, depth int) (bool, error) {
	switch t.Name {
	case "and":
		for _, sub := range t.Items {
			ok, err := e.evalBody(sub, b, depth)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for _, sub := range t.Items {
			// Each branch runs in its own environment so a failed
			// branch's bindings do not leak into the next.
			branch := b.Clone()
			ok, err := e.evalBody(sub, branch, depth)
			if err != nil {
				return false, err
			}
			if ok {
				for k, v := range branch {
					b.Bind(k, v)
				}
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(t.Items) != 1 {
			return false, fmt.Errorf("not takes one subgoal")
		}
		ok, err := e.evalBody(t.Items[0], b.Clone(), depth)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "=":
		if len(t.Items) != 2 {
			return false, fmt.Errorf("= takes two operands")
		}
		return rules.Unify(b, t.Items[0], t.Items[1])
	case "==", "!=", "<", "<=", ">", ">=":
		return compare(t.Name, b.Resolve(t.Items[0]), b.Resolve(t.Items[1]))
	default:
		return false, fmt.Errorf("unknown operator %q", t.Name)
	}
}

// compare evaluates a ground comparison. Numbers compare by mathematical
// value, strings byte-wise. Any other combination compares structurally
// under == and !=, and fails the subgoal under the ordering operators.
func compare(op string, l, r *types.Term) (bool, error) {
	if l == nil || r == nil || !l.IsGround() || !r.IsGround() {
		return false, fmt.Errorf("comparison %s requires ground operands", op)
	}
	switch {
	case l.Kind == types.KindNumber && r.Kind == types.KindNumber:
		return compareOrdered(op, l.NumberValue(), r.NumberValue()), nil
	case l.Kind == types.KindString && r.Kind == types.KindString:
		return compareOrdered(op, l.Str, r.Str), nil
	case op == "==":
		return types.Equal(l, r), nil
	case op == "!=":
		return !types.Equal(l, r), nil
	default:
		return false, nil
	}
}

func compareOrdered[T int | float64 | string](op string, l, r T) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return false
	}
}
