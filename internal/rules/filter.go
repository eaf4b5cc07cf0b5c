package rules

import (
	"sort"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Applicability filter.
 *
 * Per-candidate check against the query arguments:
 *   1. Unify each parameter term with the corresponding argument under the
 *      candidate's fresh binding environment.
 *   2. If the parameter has a specializer, check it: the specializer class
 *      must hold for the argument's runtime class, and field patterns must
 *      match the argument's attributes.
 *
 * Application instances are opaque; class membership and attribute values
 * come from the host via suspension. A rule survives only if every parameter
 * passes both steps. Survivors carry a specificity profile reused by the
 * sorter.
 *
 * Failure of either step is the ordinary "rule not applicable" outcome, not
 * an error.
 */

// Built-in class names checked without host involvement.
const (
	classString  = "String"
	classInteger = "Integer"
	classFloat   = "Float"
	classNumber  = "Number"
	classBoolean = "Boolean"
	classList    = "List"
	classDict    = "Dictionary"
)

// paramProfile is one parameter's effective type, computed once during the
// filter and reused by the specificity comparator.
type paramProfile struct {
	specialized bool
	class       string
	hasFields   bool
	ground      bool        // declared parameter term is a ground literal
	spec        *types.Term // the specializer term, for structural ties
}

// applicable is a filtered candidate: the rule, its seeded bindings, and its
// specificity profile.
type applicable struct {
	id      int64
	rule    *types.Rule
	b       Bindings
	profile []paramProfile
}

// checkStatus is the stepping result shared by the filter and sort
// sub-machines.
type checkStatus int

const (
	checkSuspended checkStatus = iota
	checkPassed
	checkFailed
)

// ruleCheck is the in-progress applicability check for one candidate. All
// loop state lives in cursor fields so the check can suspend at any host
// question and resume exactly where it stopped.
type ruleCheck struct {
	id       int64
	rule     *types.Rule
	args     []*types.Term
	b        Bindings
	paramIdx int
	unified  bool
	spec     *specCheck
	profile  []paramProfile
}

func newRuleCheck(id int64, rule *types.Rule, args []*types.Term) *ruleCheck {
	return &ruleCheck{
		id:      id,
		rule:    renameRule(rule),
		args:    args,
		b:       NewBindings(),
		profile: make([]paramProfile, 0, len(rule.Params)),
	}
}

func (ck *ruleCheck) step(d *Dispatch) (checkStatus, *Question, error) {
	for ck.paramIdx < len(ck.rule.Params) {
		p := ck.rule.Params[ck.paramIdx]
		arg := ck.args[ck.paramIdx]

		if ck.spec == nil {
			if !ck.unified {
				ok, err := Unify(ck.b, p.Value, arg)
				if err != nil {
					return checkFailed, nil, err
				}
				if !ok {
					return checkFailed, nil, nil
				}
				ck.unified = true
			}
			if p.Specializer == nil {
				ck.profile = append(ck.profile, paramProfile{
					ground: p.Value != nil && p.Value.IsGround(),
				})
				ck.advance()
				continue
			}
			ck.spec = newSpecCheck(p.Specializer, ck.b.Walk(arg))
		}

		st, q, err := ck.spec.step(d, ck.b)
		if err != nil {
			return checkFailed, nil, err
		}
		switch st {
		case checkSuspended:
			return checkSuspended, q, nil
		case checkFailed:
			return checkFailed, nil, nil
		case checkPassed:
			ck.profile = append(ck.profile, paramProfile{
				specialized: true,
				class:       ck.spec.class,
				hasFields:   len(ck.spec.fields) > 0,
				ground:      p.Value != nil && p.Value.IsGround(),
				spec:        p.Specializer,
			})
			ck.spec = nil
			ck.advance()
		}
	}
	return checkPassed, nil, nil
}

func (ck *ruleCheck) advance() {
	ck.paramIdx++
	ck.unified = false
}

// specCheck stages for one specializer against one (walked) argument.
const (
	specStageClass = iota
	specStageFields
)

// per-field stages inside specStageFields.
const (
	fieldStageStart = iota
	fieldStageAwaitIsaField
	fieldStageAwaitAttr
	fieldStageAwaitPatternAttr
)

type specCheck struct {
	class  string
	fields map[string]*types.Term
	arg    *types.Term

	stage      int
	awaitClass bool

	fieldKeys  []string
	fieldIdx   int
	fieldStage int
}

func newSpecCheck(spec, arg *types.Term) *specCheck {
	sc := &specCheck{arg: arg}
	switch spec.Kind {
	case types.KindPattern:
		sc.class = spec.Name
		sc.fields = spec.Fields
	case types.KindSymbol:
		sc.class = spec.Name
	default:
		// The parser only produces Pattern/Symbol specializers; anything
		// else is treated as never matching.
		sc.class = ""
	}
	return sc
}

func (sc *specCheck) step(d *Dispatch, b Bindings) (checkStatus, *Question, error) {
	if sc.class == "" {
		return checkFailed, nil, nil
	}
	// An unbound argument could be anything at runtime; the specializer
	// cannot exclude it here. The rule stays applicable and the body will
	// re-examine the value once bound.
	if sc.arg == nil || sc.arg.Kind == types.KindVariable {
		return checkPassed, nil, nil
	}

	if sc.stage == specStageClass {
		st, q, err := sc.stepClass(d)
		if st != checkPassed || err != nil {
			return st, q, err
		}
		sc.stage = specStageFields
		sc.fieldKeys = sortedKeys(sc.fields)
	}
	return sc.stepFields(d, b)
}

func (sc *specCheck) stepClass(d *Dispatch) (checkStatus, *Question, error) {
	if sc.arg.Kind != types.KindInstance {
		if builtinIsa(sc.arg, sc.class) {
			return checkPassed, nil, nil
		}
		return checkFailed, nil, nil
	}
	if sc.awaitClass {
		ok := d.takeBoolAnswer()
		sc.awaitClass = false
		if !ok {
			return checkFailed, nil, nil
		}
		return checkPassed, nil, nil
	}
	sc.awaitClass = true
	return checkSuspended, d.newQuestion(&Question{
		Kind:   QuestionIsaClass,
		Handle: sc.arg.Handle,
		Class:  sc.class,
	}), nil
}

func (sc *specCheck) stepFields(d *Dispatch, b Bindings) (checkStatus, *Question, error) {
	for sc.fieldIdx < len(sc.fieldKeys) {
		key := sc.fieldKeys[sc.fieldIdx]
		pat := sc.fields[key]

		if sc.arg.Kind != types.KindInstance {
			// Field patterns on a built-in class match dict arguments
			// structurally; other built-ins carry no attributes.
			if sc.arg.Kind != types.KindDict {
				return checkFailed, nil, nil
			}
			val, ok := sc.arg.Fields[key]
			if !ok {
				return checkFailed, nil, nil
			}
			ok, err := Unify(b, pat, val)
			if err != nil {
				return checkFailed, nil, err
			}
			if !ok {
				return checkFailed, nil, nil
			}
			sc.nextField()
			continue
		}

		st, q, err := sc.stepInstanceField(d, b, key, pat)
		if st != checkPassed || err != nil {
			return st, q, err
		}
		sc.nextField()
	}
	return checkPassed, nil, nil
}

// stepInstanceField checks one field pattern against a host instance.
// Pattern-valued fields ask the class question first, then fetch the
// attribute only when sub-patterns remain to match. Plain fields fetch the
// attribute and unify.
func (sc *specCheck) stepInstanceField(d *Dispatch, b Bindings, key string, pat *types.Term) (checkStatus, *Question, error) {
	switch sc.fieldStage {
	case fieldStageStart:
		if pat.Kind == types.KindPattern {
			sc.fieldStage = fieldStageAwaitIsaField
			return checkSuspended, d.newQuestion(&Question{
				Kind:   QuestionIsaClassField,
				Handle: sc.arg.Handle,
				Field:  key,
				Class:  pat.Name,
			}), nil
		}
		sc.fieldStage = fieldStageAwaitAttr
		return checkSuspended, d.newQuestion(&Question{
			Kind:   QuestionAttrLookup,
			Handle: sc.arg.Handle,
			Field:  key,
		}), nil

	case fieldStageAwaitIsaField:
		ok := d.takeBoolAnswer()
		if !ok {
			return checkFailed, nil, nil
		}
		if len(pat.Fields) == 0 {
			return checkPassed, nil, nil
		}
		sc.fieldStage = fieldStageAwaitPatternAttr
		return checkSuspended, d.newQuestion(&Question{
			Kind:   QuestionAttrLookup,
			Handle: sc.arg.Handle,
			Field:  key,
		}), nil

	case fieldStageAwaitAttr:
		val := d.takeTermAnswer()
		ok, err := Unify(b, pat, val)
		if err != nil {
			return checkFailed, nil, err
		}
		if !ok {
			return checkFailed, nil, nil
		}
		return checkPassed, nil, nil

	case fieldStageAwaitPatternAttr:
		val := d.takeTermAnswer()
		if val == nil || val.Kind != types.KindDict {
			return checkFailed, nil, nil
		}
		ok, err := unifyPatternDict(b, pat, val)
		if err != nil {
			return checkFailed, nil, err
		}
		if !ok {
			return checkFailed, nil, nil
		}
		return checkPassed, nil, nil
	}
	return checkFailed, nil, nil
}

func (sc *specCheck) nextField() {
	sc.fieldIdx++
	sc.fieldStage = fieldStageStart
}

// builtinIsa checks core term kinds against the built-in class names.
func builtinIsa(t *types.Term, class string) bool {
	switch class {
	case classString:
		return t.Kind == types.KindString
	case classInteger:
		return t.Kind == types.KindNumber && !t.IsFloat
	case classFloat:
		return t.Kind == types.KindNumber && t.IsFloat
	case classNumber:
		return t.Kind == types.KindNumber
	case classBoolean:
		return t.Kind == types.KindBoolean
	case classList:
		return t.Kind == types.KindList
	case classDict:
		return t.Kind == types.KindDict
	default:
		return false
	}
}

func sortedKeys(m map[string]*types.Term) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
