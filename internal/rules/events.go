package rules

import (
	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Host-question event protocol.
 *
 * The filter and sorter cannot call the embedding application directly; they
 * emit typed questions that the evaluator proxies to the host. Strictly
 * request/response: the dispatch emits one question, suspends, receives one
 * answer, resumes. Each question carries a correlation id; answers with an
 * unknown id, the wrong payload type, or no question outstanding are
 * protocol violations.
 */

// QuestionKind discriminates host questions.
type QuestionKind int

const (
	// QuestionIsaClass asks whether an instance belongs to a class.
	QuestionIsaClass QuestionKind = iota
	// QuestionIsSubclass asks whether Class is a subclass of OtherClass
	// in the host's class lattice.
	QuestionIsSubclass
	// QuestionIsaClassField asks whether the named attribute of an
	// instance belongs to a class.
	QuestionIsaClassField
	// QuestionAttrLookup fetches an instance attribute, boxed as a term.
	QuestionAttrLookup
)

// String returns the question kind name used in diagnostics.
func (k QuestionKind) String() string {
	switch k {
	case QuestionIsaClass:
		return "IsaClass"
	case QuestionIsSubclass:
		return "IsSubclass"
	case QuestionIsaClassField:
		return "IsaClassField"
	case QuestionAttrLookup:
		return "AttrLookup"
	default:
		return "Unknown"
	}
}

// Question is one outstanding request to the host.
//
// Field usage by kind:
//   - IsaClass: Handle, Class
//   - IsSubclass: Class (candidate subclass), OtherClass (candidate superclass)
//   - IsaClassField: Handle, Field, Class
//   - AttrLookup: Handle, Field
type Question struct {
	Kind          QuestionKind
	CorrelationID types.CorrelationID
	Handle        string
	Class         string
	OtherClass    string
	Field         string
}

// EventKind discriminates dispatch events.
type EventKind int

const (
	// EventHostQuestion carries a question the evaluator must answer
	// before the dispatch can continue.
	EventHostQuestion EventKind = iota
	// EventRuleReady carries the next applicable rule, most specific
	// first, with bindings seeded from the parameter/argument unification.
	EventRuleReady
	// EventDone terminates the stream. An empty stream is not an error.
	EventDone
	// EventError terminates the stream with one of the core error kinds.
	// Rules already emitted are final.
	EventError
)

// Event is one step of a dispatch, pulled by the evaluator.
type Event struct {
	Kind     EventKind
	Question *Question
	Rule     *types.Rule
	RuleID   int64
	Bindings Bindings
	Err      error
}
