package types

import "errors"

// Sentinel errors for Quill dispatch operations.
//
// Unification failure and specializer mismatch are not errors; they are the
// ordinary "rule not applicable" outcome and are reported as boolean results.
var (
	// ErrArityMismatch indicates a rule insert whose parameter count
	// disagrees with the generic rule's established arity.
	ErrArityMismatch = errors.New("rule arity disagrees with existing generic rule")

	// ErrUnknownClass indicates a specializer names a class the host
	// reports as unknown.
	ErrUnknownClass = errors.New("specializer names unknown class")

	// ErrHostProtocol indicates a host answer with an unknown correlation
	// id, the wrong payload type, or no question outstanding.
	ErrHostProtocol = errors.New("host protocol violation")

	// ErrOccursCheck indicates unification attempted a cyclic binding.
	ErrOccursCheck = errors.New("occurs check: variable bound to term containing itself")

	// ErrArityTooLarge indicates a rule exceeds MaxArity.
	ErrArityTooLarge = errors.New("rule arity exceeds maximum")

	// ErrTooManyPatternFields indicates a specializer exceeds MaxPatternFields.
	ErrTooManyPatternFields = errors.New("specializer has too many field patterns")

	// ErrTermTooDeep indicates term nesting exceeds MaxTermDepth.
	ErrTermTooDeep = errors.New("term nesting exceeds maximum depth")

	// ErrDispatchDone indicates an answer arrived after the dispatch
	// finished.
	ErrDispatchDone = errors.New("dispatch already finished")
)
