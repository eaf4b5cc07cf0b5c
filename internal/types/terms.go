// Package types provides domain models shared across Quill components.
//
// Zero-dependency design: terms.go, rules.go and errors.go use only the
// standard library. ID utilities in ids.go import uuid but are isolated for
// selective inclusion.
//
// The Term union is a closed tagged variant known at compile time. Host
// application objects enter the engine as opaque instance handles tagged with
// a class name; the engine never dereferences them.
package types

// TermKind discriminates the Term union.
type TermKind int

const (
	KindVariable TermKind = iota
	KindSymbol
	KindString
	KindNumber
	KindBoolean
	KindList
	KindDict
	KindInstance
	KindPattern
	KindCall
	KindExpression
)

// String returns the kind name used in diagnostics.
func (k TermKind) String() string {
	switch k {
	case KindVariable:
		return "Variable"
	case KindSymbol:
		return "Symbol"
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBoolean:
		return "Boolean"
	case KindList:
		return "List"
	case KindDict:
		return "Dict"
	case KindInstance:
		return "Instance"
	case KindPattern:
		return "Pattern"
	case KindCall:
		return "Call"
	case KindExpression:
		return "Expression"
	default:
		return "Unknown"
	}
}

// Position is source location metadata. Semantically inert: Equal ignores it.
type Position struct {
	Line int
	Col  int
}

// Term is one node of the policy term tree.
//
// Field usage by kind:
//   - Variable: Name
//   - Symbol: Name
//   - String: Str
//   - Number: Int/Flt/IsFloat
//   - Boolean: Bool
//   - List: Items
//   - Dict: Fields
//   - Instance: Handle (opaque host handle), Name (class)
//   - Pattern: Name (class), Fields (field patterns, may be empty)
//   - Call: Name (predicate), Items (arguments)
//   - Expression: Name (operator), Items (operands)
type Term struct {
	Kind    TermKind
	Name    string
	Str     string
	Int     int64
	Flt     float64
	IsFloat bool
	Bool    bool
	Items   []*Term
	Fields  map[string]*Term
	Handle  string
	Pos     Position
}

// Constructors. Positions default to zero; the parser fills them in.

func NewVariable(name string) *Term { return &Term{Kind: KindVariable, Name: name} }
func NewSymbol(name string) *Term   { return &Term{Kind: KindSymbol, Name: name} }
func NewString(s string) *Term      { return &Term{Kind: KindString, Str: s} }
func NewInt(i int64) *Term          { return &Term{Kind: KindNumber, Int: i} }
func NewFloat(f float64) *Term      { return &Term{Kind: KindNumber, Flt: f, IsFloat: true} }
func NewBoolean(b bool) *Term       { return &Term{Kind: KindBoolean, Bool: b} }
func NewList(items ...*Term) *Term  { return &Term{Kind: KindList, Items: items} }

func NewDict(fields map[string]*Term) *Term {
	if fields == nil {
		fields = map[string]*Term{}
	}
	return &Term{Kind: KindDict, Fields: fields}
}

func NewInstance(handle, class string) *Term {
	return &Term{Kind: KindInstance, Handle: handle, Name: class}
}

func NewPattern(class string, fields map[string]*Term) *Term {
	return &Term{Kind: KindPattern, Name: class, Fields: fields}
}

func NewCall(name string, args ...*Term) *Term {
	return &Term{Kind: KindCall, Name: name, Items: args}
}

func NewExpression(op string, operands ...*Term) *Term {
	return &Term{Kind: KindExpression, Name: op, Items: operands}
}

// NumberValue returns the numeric value as float64 regardless of
// representation. Comparisons across integer and float representations go
// through this so that 3 and 3.0 are equal.
func (t *Term) NumberValue() float64 {
	if t.IsFloat {
		return t.Flt
	}
	return float64(t.Int)
}

// Equal reports structural equality, ignoring positions. Two variables are
// equal only if they are the same variable (same name); two distinct unbound
// variables never compare equal. Numbers compare by mathematical value.
func Equal(a, b *Term) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindVariable, KindSymbol:
		return a.Name == b.Name
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		if !a.IsFloat && !b.IsFloat {
			return a.Int == b.Int
		}
		return a.NumberValue() == b.NumberValue()
	case KindBoolean:
		return a.Bool == b.Bool
	case KindList:
		return equalItems(a.Items, b.Items)
	case KindDict:
		return equalFields(a.Fields, b.Fields)
	case KindInstance:
		return a.Handle == b.Handle && a.Name == b.Name
	case KindPattern:
		return a.Name == b.Name && equalFields(a.Fields, b.Fields)
	case KindCall, KindExpression:
		return a.Name == b.Name && equalItems(a.Items, b.Items)
	default:
		return false
	}
}

func equalItems(a, b []*Term) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalFields(a, b map[string]*Term) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// IsGround reports whether the term contains no variables and no instance
// handles or calls, transitively. Patterns and expressions are never ground:
// they only have meaning relative to a host class or an evaluation.
func (t *Term) IsGround() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindSymbol, KindString, KindNumber, KindBoolean:
		return true
	case KindList:
		for _, it := range t.Items {
			if !it.IsGround() {
				return false
			}
		}
		return true
	case KindDict:
		for _, v := range t.Fields {
			if !v.IsGround() {
				return false
			}
		}
		return true
	default:
		return false
	}
}
