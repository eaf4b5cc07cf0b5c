package rules

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quillpolicy/quill/internal/types"
)

// scriptedHost answers dispatch questions from fixed tables and records the
// question sequence for protocol assertions.
type scriptedHost struct {
	// instance handle -> class
	classes map[string]string
	// class -> parents
	parents map[string][]string
	// handle -> field -> value
	attrs map[string]map[string]*types.Term

	log []string
}

func (h *scriptedHost) isa(class, want string) bool {
	if class == want {
		return true
	}
	for _, p := range h.parents[class] {
		if h.isa(p, want) {
			return true
		}
	}
	return false
}

func (h *scriptedHost) answer(q *Question) (any, error) {
	switch q.Kind {
	case QuestionIsaClass:
		h.log = append(h.log, fmt.Sprintf("IsaClass(%s,%s)", q.Handle, q.Class))
		cls, ok := h.classes[q.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: no such instance %q", types.ErrUnknownClass, q.Handle)
		}
		return h.isa(cls, q.Class), nil
	case QuestionIsSubclass:
		h.log = append(h.log, fmt.Sprintf("IsSubclass(%s,%s)", q.Class, q.OtherClass))
		return h.isa(q.Class, q.OtherClass), nil
	case QuestionIsaClassField:
		h.log = append(h.log, fmt.Sprintf("IsaClassField(%s,%s,%s)", q.Handle, q.Field, q.Class))
		return false, nil
	case QuestionAttrLookup:
		h.log = append(h.log, fmt.Sprintf("AttrLookup(%s,%s)", q.Handle, q.Field))
		fields, ok := h.attrs[q.Handle]
		if !ok {
			return nil, fmt.Errorf("no attrs for %q", q.Handle)
		}
		v, ok := fields[q.Field]
		if !ok {
			return nil, fmt.Errorf("no attr %q on %q", q.Field, q.Handle)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unexpected question kind %v", q.Kind)
}

// drain pumps a dispatch to completion, answering questions from the host.
// Returns the emitted definition ids in order.
func drain(t *testing.T, d *Dispatch, h *scriptedHost) ([]int64, error) {
	t.Helper()
	var out []int64
	for i := 0; i < 10000; i++ {
		ev := d.Next()
		switch ev.Kind {
		case EventHostQuestion:
			if h == nil {
				t.Fatalf("unexpected host question %v", ev.Question.Kind)
			}
			ans, err := h.answer(ev.Question)
			if err != nil {
				if aerr := d.AnswerError(ev.Question.CorrelationID, err); aerr != nil {
					t.Fatalf("AnswerError() = %v, want nil", aerr)
				}
				continue
			}
			if err := d.Answer(ev.Question.CorrelationID, ans); err != nil {
				t.Fatalf("Answer() = %v, want nil", err)
			}
		case EventRuleReady:
			out = append(out, ev.RuleID)
		case EventDone:
			return out, nil
		case EventError:
			return out, ev.Err
		}
	}
	t.Fatalf("dispatch did not terminate")
	return nil, nil
}

func mustInsert(t *testing.T, r *Registry, rule *types.Rule) int64 {
	t.Helper()
	id, err := r.Insert(rule)
	if err != nil {
		t.Fatalf("Insert(%s) error = %v, want nil", rule.Name, err)
	}
	return id
}

func groundRule(name string, lits ...string) *types.Rule {
	params := make([]types.Parameter, len(lits))
	for i, l := range lits {
		params[i] = litParam(types.NewString(l))
	}
	return &types.Rule{Name: name, Params: params, Body: types.NewBoolean(true)}
}

func strArgs(ss ...string) []*types.Term {
	args := make([]*types.Term, len(ss))
	for i, s := range ss {
		args[i] = types.NewString(s)
	}
	return args
}

func TestDispatch_GroundOnlyMatrix(t *testing.T) {
	r := NewRegistry(nil)
	id1 := mustInsert(t, r, groundRule("allow", "alice", "GET", "/r/a"))
	mustInsert(t, r, groundRule("allow", "bob", "GET", "/r/b"))
	mustInsert(t, r, groundRule("allow", "alice", "PUT", "/r/a"))

	got, err := drain(t, r.Dispatch("allow", strArgs("alice", "GET", "/r/a")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != id1 {
		t.Errorf("dispatch = %v, want [%d]", got, id1)
	}

	got, err = drain(t, r.Dispatch("allow", strArgs("zed", "GET", "/r/a")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("dispatch = %v, want empty stream", got)
	}
}

func TestDispatch_WildcardOrdering(t *testing.T) {
	r := NewRegistry(nil)
	wildID := mustInsert(t, r, &types.Rule{
		Name: "allow",
		Params: []types.Parameter{
			varParam("a"), litParam(types.NewString("GET")), varParam("r"),
		},
		Body: types.NewBoolean(true),
	})
	litID := mustInsert(t, r, groundRule("allow", "alice", "GET", "/r/a"))

	got, err := drain(t, r.Dispatch("allow", strArgs("alice", "GET", "/r/a")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 2 || got[0] != litID || got[1] != wildID {
		t.Errorf("dispatch = %v, want [%d %d] (literal rule first)", got, litID, wildID)
	}
}

func TestDispatch_UnknownPredicateIsEmpty(t *testing.T) {
	r := NewRegistry(nil)
	got, err := drain(t, r.Dispatch("nope", strArgs("x")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("dispatch = %v, want empty stream", got)
	}
}

func TestDispatch_ArityMismatchInsert(t *testing.T) {
	r := NewRegistry(nil)
	id1 := mustInsert(t, r, groundRule("allow", "a", "b", "c"))

	_, err := r.Insert(groundRule("allow", "a", "b"))
	if !errors.Is(err, types.ErrArityMismatch) {
		t.Fatalf("Insert() error = %v, want ErrArityMismatch", err)
	}

	// The first rule remains queryable.
	got, err := drain(t, r.Dispatch("allow", strArgs("a", "b", "c")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != id1 {
		t.Errorf("dispatch = %v, want [%d]", got, id1)
	}
}

func TestDispatch_ArgumentCountMismatchIsEmpty(t *testing.T) {
	r := NewRegistry(nil)
	mustInsert(t, r, groundRule("allow", "a", "b", "c"))
	got, err := drain(t, r.Dispatch("allow", strArgs("a", "b")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("dispatch = %v, want empty stream", got)
	}
}

func TestDispatch_DuplicateRuleBothEmitted(t *testing.T) {
	r := NewRegistry(nil)
	id1 := mustInsert(t, r, groundRule("allow", "alice"))
	id2 := mustInsert(t, r, groundRule("allow", "alice"))
	if id1 == id2 {
		t.Fatalf("Insert() assigned equal ids %d, want distinct", id1)
	}

	got, err := drain(t, r.Dispatch("allow", strArgs("alice")), nil)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 2 || got[0] != id1 || got[1] != id2 {
		t.Errorf("dispatch = %v, want [%d %d] in insertion order", got, id1, id2)
	}
}

func subclassHost() *scriptedHost {
	return &scriptedHost{
		classes: map[string]string{
			"sue": "SuperUser",
			"bob": "User",
		},
		parents: map[string][]string{
			"SuperUser": {"User"},
		},
	}
}

func subclassRegistry(t *testing.T) (*Registry, int64, int64) {
	r := NewRegistry(nil)
	userID := mustInsert(t, r, &types.Rule{
		Name: "allow",
		Params: []types.Parameter{
			specParam("u", "User"), varParam("a"), varParam("r"),
		},
		Body: types.NewBoolean(true),
	})
	superID := mustInsert(t, r, &types.Rule{
		Name: "allow",
		Params: []types.Parameter{
			specParam("u", "SuperUser"), varParam("a"), varParam("r"),
		},
		Body: types.NewBoolean(true),
	})
	return r, userID, superID
}

func TestDispatch_SubclassSpecificity(t *testing.T) {
	r, userID, superID := subclassRegistry(t)
	h := subclassHost()

	args := []*types.Term{
		types.NewInstance("sue", "SuperUser"),
		types.NewString("GET"),
		types.NewString("/r/a"),
	}
	got, err := drain(t, r.Dispatch("allow", args), h)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 2 || got[0] != superID || got[1] != userID {
		t.Errorf("dispatch = %v, want [%d %d] (SuperUser rule first)", got, superID, userID)
	}

	// A plain User instance only matches the User rule; no ordering
	// question is needed for a single applicable rule.
	h2 := subclassHost()
	args = []*types.Term{
		types.NewInstance("bob", "User"),
		types.NewString("GET"),
		types.NewString("/r/a"),
	}
	got, err = drain(t, r.Dispatch("allow", args), h2)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != userID {
		t.Errorf("dispatch = %v, want [%d]", got, userID)
	}
	for _, q := range h2.log {
		if q == "IsSubclass(SuperUser,User)" || q == "IsSubclass(User,SuperUser)" {
			t.Errorf("unexpected ordering question %s for a single applicable rule", q)
		}
	}
}

func TestDispatch_SubclassQuestionPrecedesFirstRule(t *testing.T) {
	r, _, _ := subclassRegistry(t)
	h := subclassHost()
	d := r.Dispatch("allow", []*types.Term{
		types.NewInstance("sue", "SuperUser"),
		types.NewString("GET"),
		types.NewString("/r/a"),
	})

	sawSubclass := false
	for i := 0; i < 1000; i++ {
		ev := d.Next()
		if ev.Kind == EventHostQuestion {
			if ev.Question.Kind == QuestionIsSubclass &&
				ev.Question.Class == "SuperUser" && ev.Question.OtherClass == "User" {
				sawSubclass = true
			}
			ans, err := h.answer(ev.Question)
			if err != nil {
				t.Fatalf("answer() error = %v", err)
			}
			if err := d.Answer(ev.Question.CorrelationID, ans); err != nil {
				t.Fatalf("Answer() = %v, want nil", err)
			}
			continue
		}
		if ev.Kind == EventRuleReady {
			if !sawSubclass {
				t.Fatalf("RuleReady before IsSubclass(SuperUser, User) question")
			}
			return
		}
		if ev.Kind == EventDone || ev.Kind == EventError {
			t.Fatalf("dispatch terminated before emitting a rule: %+v", ev)
		}
	}
	t.Fatalf("dispatch did not emit a rule")
}

// eventTrace replays a dispatch and renders its observable event sequence.
func eventTrace(t *testing.T, d *Dispatch, h *scriptedHost) []string {
	t.Helper()
	var trace []string
	for i := 0; i < 10000; i++ {
		ev := d.Next()
		switch ev.Kind {
		case EventHostQuestion:
			q := ev.Question
			trace = append(trace, fmt.Sprintf("question:%s(%s,%s,%s,%s)", q.Kind, q.Handle, q.Class, q.OtherClass, q.Field))
			ans, err := h.answer(q)
			if err != nil {
				t.Fatalf("answer() error = %v", err)
			}
			if err := d.Answer(q.CorrelationID, ans); err != nil {
				t.Fatalf("Answer() = %v, want nil", err)
			}
		case EventRuleReady:
			trace = append(trace, fmt.Sprintf("rule:%d", ev.RuleID))
		case EventDone:
			return append(trace, "done")
		case EventError:
			t.Fatalf("dispatch error = %v", ev.Err)
		}
	}
	t.Fatalf("dispatch did not terminate")
	return nil
}

func TestDispatch_ReplayIsDeterministic(t *testing.T) {
	r, _, _ := subclassRegistry(t)
	args := func() []*types.Term {
		return []*types.Term{
			types.NewInstance("sue", "SuperUser"),
			types.NewString("GET"),
			types.NewString("/r/a"),
		}
	}

	first := eventTrace(t, r.Dispatch("allow", args()), subclassHost())
	second := eventTrace(t, r.Dispatch("allow", args()), subclassHost())

	if len(first) != len(second) {
		t.Fatalf("replay lengths differ: %d vs %d\nfirst: %v\nsecond: %v", len(first), len(second), first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("replay diverges at %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestDispatch_SubtypeAnswersCachedWithinDispatch(t *testing.T) {
	r := NewRegistry(nil)
	// Insertion order: broadest first, so the sort has real work to do.
	ids := map[string]int64{}
	for _, class := range []string{"C", "B", "A"} {
		ids[class] = mustInsert(t, r, &types.Rule{
			Name:   "allow",
			Params: []types.Parameter{specParam("u", class)},
			Body:   types.NewBoolean(true),
		})
	}

	h := &scriptedHost{
		classes: map[string]string{"inst": "A"},
		parents: map[string][]string{"A": {"B"}, "B": {"C"}},
	}
	got, err := drain(t, r.Dispatch("allow", []*types.Term{types.NewInstance("inst", "A")}), h)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	want := []int64{ids["A"], ids["B"], ids["C"]}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("dispatch = %v, want %v (deepest subtype first)", got, want)
	}

	// Selection re-compares surviving pairs on later passes; the cache
	// must keep each ordered class pair to a single question.
	seen := map[string]int{}
	for _, q := range h.log {
		if strings.HasPrefix(q, "IsSubclass") {
			seen[q]++
		}
	}
	for q, n := range seen {
		if n > 1 {
			t.Errorf("question %s asked %d times, want 1", q, n)
		}
	}
}

func TestDispatch_FieldPatternRefinement(t *testing.T) {
	r := NewRegistry(nil)
	bareID := mustInsert(t, r, &types.Rule{
		Name: "allow",
		Params: []types.Parameter{
			varParam("actor"), varParam("action"), specParam("r", "Report"),
		},
		Body: types.NewBoolean(true),
	})
	fieldID := mustInsert(t, r, &types.Rule{
		Name: "allow",
		Params: []types.Parameter{
			varParam("a"), varParam("action"),
			{
				Value: types.NewVariable("r"),
				Specializer: types.NewPattern("Report", map[string]*types.Term{
					"author": types.NewVariable("a"),
				}),
			},
		},
		Body: types.NewBoolean(true),
	})

	h := &scriptedHost{
		classes: map[string]string{"rep1": "Report"},
		attrs: map[string]map[string]*types.Term{
			"rep1": {"author": types.NewString("alice")},
		},
	}
	args := []*types.Term{
		types.NewString("alice"),
		types.NewString("GET"),
		types.NewInstance("rep1", "Report"),
	}
	got, err := drain(t, r.Dispatch("allow", args), h)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 2 || got[0] != fieldID || got[1] != bareID {
		t.Errorf("dispatch = %v, want [%d %d] (field-pattern rule first)", got, fieldID, bareID)
	}

	// A report by someone else only matches the bare rule.
	h2 := &scriptedHost{
		classes: map[string]string{"rep2": "Report"},
		attrs: map[string]map[string]*types.Term{
			"rep2": {"author": types.NewString("bob")},
		},
	}
	args = []*types.Term{
		types.NewString("alice"),
		types.NewString("GET"),
		types.NewInstance("rep2", "Report"),
	}
	got, err = drain(t, r.Dispatch("allow", args), h2)
	if err != nil {
		t.Fatalf("drain() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != bareID {
		t.Errorf("dispatch = %v, want [%d]", got, bareID)
	}
}

func TestDispatch_RuleReadyCarriesBindings(t *testing.T) {
	r := NewRegistry(nil)
	mustInsert(t, r, &types.Rule{
		Name:   "allow",
		Params: []types.Parameter{varParam("actor"), litParam(types.NewString("GET"))},
		Body:   types.NewBoolean(true),
	})

	d := r.Dispatch("allow", strArgs("alice", "GET"))
	ev := d.Next()
	if ev.Kind != EventRuleReady {
		t.Fatalf("Next() = %v, want RuleReady", ev.Kind)
	}
	// The emitted rule is the activation's own variant; its first
	// parameter variable must be bound to the matching argument.
	got := ev.Bindings.Walk(ev.Rule.Params[0].Value)
	if got.Kind != types.KindString || got.Str != "alice" {
		t.Errorf("bindings[actor] = %s, want \"alice\"", types.Format(got))
	}
}

func TestDispatch_AnswerProtocolViolations(t *testing.T) {
	t.Run("answer with no question outstanding", func(t *testing.T) {
		r := NewRegistry(nil)
		mustInsert(t, r, groundRule("allow", "a"))
		d := r.Dispatch("allow", strArgs("a"))
		if err := d.Answer("bogus", true); !errors.Is(err, types.ErrHostProtocol) {
			t.Errorf("Answer() error = %v, want ErrHostProtocol", err)
		}
		ev := d.Next()
		if ev.Kind != EventError || !errors.Is(ev.Err, types.ErrHostProtocol) {
			t.Errorf("Next() = %+v, want EventError(ErrHostProtocol)", ev)
		}
	})

	t.Run("wrong correlation id", func(t *testing.T) {
		r, _, _ := subclassRegistry(t)
		d := r.Dispatch("allow", []*types.Term{
			types.NewInstance("sue", "SuperUser"), types.NewString("GET"), types.NewString("/r"),
		})
		ev := d.Next()
		if ev.Kind != EventHostQuestion {
			t.Fatalf("Next() = %v, want EventHostQuestion", ev.Kind)
		}
		if err := d.Answer("not-the-id", true); !errors.Is(err, types.ErrHostProtocol) {
			t.Errorf("Answer() error = %v, want ErrHostProtocol", err)
		}
	})

	t.Run("wrong payload type", func(t *testing.T) {
		r, _, _ := subclassRegistry(t)
		d := r.Dispatch("allow", []*types.Term{
			types.NewInstance("sue", "SuperUser"), types.NewString("GET"), types.NewString("/r"),
		})
		ev := d.Next()
		if ev.Kind != EventHostQuestion {
			t.Fatalf("Next() = %v, want EventHostQuestion", ev.Kind)
		}
		if err := d.Answer(ev.Question.CorrelationID, types.NewString("not-a-bool")); !errors.Is(err, types.ErrHostProtocol) {
			t.Errorf("Answer() error = %v, want ErrHostProtocol", err)
		}
	})
}

func TestDispatch_AnswerErrorTerminates(t *testing.T) {
	r := NewRegistry(nil)
	mustInsert(t, r, &types.Rule{
		Name:   "allow",
		Params: []types.Parameter{specParam("u", "Ghost")},
		Body:   types.NewBoolean(true),
	})
	d := r.Dispatch("allow", []*types.Term{types.NewInstance("h", "Ghost")})

	ev := d.Next()
	if ev.Kind != EventHostQuestion {
		t.Fatalf("Next() = %v, want EventHostQuestion", ev.Kind)
	}
	if err := d.AnswerError(ev.Question.CorrelationID, types.ErrUnknownClass); err != nil {
		t.Fatalf("AnswerError() = %v, want nil", err)
	}
	ev = d.Next()
	if ev.Kind != EventError || !errors.Is(ev.Err, types.ErrUnknownClass) {
		t.Errorf("Next() = %+v, want EventError(ErrUnknownClass)", ev)
	}
}

func TestDispatch_NextReemitsOutstandingQuestion(t *testing.T) {
	r, _, _ := subclassRegistry(t)
	d := r.Dispatch("allow", []*types.Term{
		types.NewInstance("sue", "SuperUser"), types.NewString("GET"), types.NewString("/r"),
	})
	first := d.Next()
	if first.Kind != EventHostQuestion {
		t.Fatalf("Next() = %v, want EventHostQuestion", first.Kind)
	}
	second := d.Next()
	if second.Kind != EventHostQuestion || second.Question.CorrelationID != first.Question.CorrelationID {
		t.Errorf("Next() while outstanding re-emitted a different question")
	}
}

func TestDispatch_InsertionOrderDoesNotReorderSpecificityPairs(t *testing.T) {
	// The literal rule outranks the wildcard rule regardless of which was
	// inserted first; only ties fall back to insertion order.
	build := func(wildFirst bool) (*Registry, int64, int64) {
		r := NewRegistry(nil)
		wild := &types.Rule{
			Name:   "allow",
			Params: []types.Parameter{varParam("a"), varParam("b")},
			Body:   types.NewBoolean(true),
		}
		lit := groundRule("allow", "alice", "GET")
		var wildID, litID int64
		if wildFirst {
			wildID = mustInsert(t, r, wild)
			litID = mustInsert(t, r, lit)
		} else {
			litID = mustInsert(t, r, lit)
			wildID = mustInsert(t, r, wild)
		}
		return r, wildID, litID
	}

	for _, wildFirst := range []bool{true, false} {
		r, wildID, litID := build(wildFirst)
		got, err := drain(t, r.Dispatch("allow", strArgs("alice", "GET")), nil)
		if err != nil {
			t.Fatalf("drain() error = %v, want nil", err)
		}
		if len(got) != 2 || got[0] != litID || got[1] != wildID {
			t.Errorf("wildFirst=%v: dispatch = %v, want [%d %d]", wildFirst, got, litID, wildID)
		}
	}
}

func TestDispatch_UnspecializedRuleMatchesEverything(t *testing.T) {
	r := NewRegistry(nil)
	id := mustInsert(t, r, &types.Rule{
		Name:   "allow",
		Params: []types.Parameter{varParam("x"), varParam("y"), varParam("z")},
		Body:   types.NewBoolean(true),
	})

	argSets := [][]*types.Term{
		strArgs("a", "b", "c"),
		{types.NewInt(1), types.NewFloat(2.5), types.NewBoolean(true)},
		{types.NewVariable("q"), types.NewList(types.NewInt(1)), types.NewDict(nil)},
		{types.NewInstance("h", "User"), types.NewString("GET"), types.NewVariable("r")},
	}
	for i, args := range argSets {
		got, err := drain(t, r.Dispatch("allow", args), nil)
		if err != nil {
			t.Fatalf("drain(%d) error = %v, want nil", i, err)
		}
		if len(got) != 1 || got[0] != id {
			t.Errorf("dispatch(%d) = %v, want [%d]", i, got, id)
		}
	}
}
