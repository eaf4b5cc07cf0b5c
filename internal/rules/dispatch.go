package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Dispatch handle.
 *
 * A dispatch is a single-threaded, cooperative, resumable state machine.
 * The evaluator pulls events with Next; the machine runs until it either
 * needs a host answer (EventHostQuestion), has the next most-specific rule
 * (EventRuleReady), or is finished (EventDone / EventError).
 *
 * Phases:
 *   1. filter: candidates from the index are checked one by one; a
 *      specializer check may suspend on host questions.
 *   2. sort: a selection pass over the applicable set finds the most
 *      specific remaining rule; comparisons may suspend the same way. One
 *      rule is emitted per pass, so the evaluator can short-circuit without
 *      the tail ever being ordered.
 *
 * The registry is read-only during a dispatch and no lock is held across a
 * suspension. Bindings created here do not outlive the dispatch; RuleReady
 * events carry a copy.
 */

type dispatchPhase int

const (
	phaseFilter dispatchPhase = iota
	phaseSort
	phaseDone
)

type candidate struct {
	id   int64
	rule *types.Rule
}

type subtypeKey struct {
	sub   string
	super string
}

// Dispatch streams the applicable rules for one query, most specific first,
// ties broken by ascending definition id.
type Dispatch struct {
	logger *zap.Logger
	args   []*types.Term

	phase      dispatchPhase
	candidates []candidate

	// filter cursors
	candIdx    int
	chk        *ruleCheck
	applicable []*applicable

	// sort cursors
	remaining []*applicable
	bestIdx   int
	scanIdx   int
	scanning  bool
	cmp       *comparison

	subtype     map[subtypeKey]bool
	cycleWarned bool

	// question plumbing
	pending    *Question
	answered   bool
	boolAnswer bool
	termAnswer *types.Term
	answerErr  error

	terminal *Event
}

func newDispatch(logger *zap.Logger, args []*types.Term, candidates []candidate) *Dispatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatch{
		logger:     logger,
		args:       args,
		candidates: candidates,
		subtype:    make(map[subtypeKey]bool),
	}
}

// Next advances the dispatch to its next event. While a question is
// outstanding and unanswered, Next re-emits the same question. After the
// stream terminates, Next keeps returning the terminal event.
func (d *Dispatch) Next() *Event {
	if d.terminal != nil {
		return d.terminal
	}
	if d.pending != nil && !d.answered {
		if d.answerErr != nil {
			return d.fail(d.answerErr)
		}
		return &Event{Kind: EventHostQuestion, Question: d.pending}
	}
	for {
		switch d.phase {
		case phaseFilter:
			if ev := d.stepFilter(); ev != nil {
				return ev
			}
		case phaseSort:
			if ev := d.stepSort(); ev != nil {
				return ev
			}
		case phaseDone:
			return d.terminal
		}
	}
}

// Answer delivers the host's answer to the outstanding question. The payload
// must be bool for IsaClass/IsSubclass/IsaClassField and *types.Term for
// AttrLookup. Misuse is a protocol violation: the dispatch terminates and
// the violation is also returned to the caller.
func (d *Dispatch) Answer(id types.CorrelationID, value any) error {
	if d.terminal != nil {
		return fmt.Errorf("%w: %w", types.ErrHostProtocol, types.ErrDispatchDone)
	}
	if d.pending == nil || d.answered {
		return d.violation("answer with no question outstanding")
	}
	if id != d.pending.CorrelationID {
		return d.violation("answer for unknown correlation id %q", id)
	}
	switch d.pending.Kind {
	case QuestionAttrLookup:
		t, ok := value.(*types.Term)
		if !ok {
			return d.violation("%s answer must be a term, got %T", d.pending.Kind, value)
		}
		d.termAnswer = t
	default:
		b, ok := value.(bool)
		if !ok {
			return d.violation("%s answer must be a bool, got %T", d.pending.Kind, value)
		}
		d.boolAnswer = b
	}
	d.answered = true
	return nil
}

// AnswerError reports that the host could not answer the outstanding
// question (e.g. an unknown class). The dispatch terminates with the error
// on the next Next call.
func (d *Dispatch) AnswerError(id types.CorrelationID, err error) error {
	if d.terminal != nil {
		return fmt.Errorf("%w: %w", types.ErrHostProtocol, types.ErrDispatchDone)
	}
	if d.pending == nil || d.answered {
		return d.violation("error answer with no question outstanding")
	}
	if id != d.pending.CorrelationID {
		return d.violation("error answer for unknown correlation id %q", id)
	}
	d.answerErr = err
	return nil
}

func (d *Dispatch) violation(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", types.ErrHostProtocol, fmt.Sprintf(format, args...))
	d.fail(err)
	return err
}

func (d *Dispatch) stepFilter() *Event {
	for d.candIdx < len(d.candidates) {
		c := d.candidates[d.candIdx]
		if d.chk == nil {
			d.chk = newRuleCheck(c.id, c.rule, d.args)
		}
		st, q, err := d.chk.step(d)
		if err != nil {
			return d.fail(err)
		}
		switch st {
		case checkSuspended:
			return d.questionEvent(q)
		case checkPassed:
			d.applicable = append(d.applicable, &applicable{
				id:      c.id,
				rule:    d.chk.rule, // the activation's alpha-variant
				b:       d.chk.b,
				profile: d.chk.profile,
			})
		}
		d.chk = nil
		d.candIdx++
	}
	d.remaining = d.applicable
	d.phase = phaseSort
	return nil
}

func (d *Dispatch) stepSort() *Event {
	if len(d.remaining) == 0 {
		return d.finish()
	}
	if !d.scanning {
		d.bestIdx = 0
		d.scanIdx = 1
		d.scanning = true
	}
	for d.scanIdx < len(d.remaining) {
		if d.cmp == nil {
			d.cmp = newComparison(d.remaining[d.scanIdx], d.remaining[d.bestIdx])
		}
		st, q, err := d.cmp.step(d)
		if err != nil {
			return d.fail(err)
		}
		if st == checkSuspended {
			return d.questionEvent(q)
		}
		if d.cmp.result {
			d.bestIdx = d.scanIdx
		}
		d.cmp = nil
		d.scanIdx++
	}
	best := d.remaining[d.bestIdx]
	d.remaining = append(d.remaining[:d.bestIdx], d.remaining[d.bestIdx+1:]...)
	d.scanning = false
	return &Event{
		Kind:     EventRuleReady,
		Rule:     best.rule,
		RuleID:   best.id,
		Bindings: best.b.Clone(),
	}
}

func (d *Dispatch) finish() *Event {
	d.phase = phaseDone
	d.terminal = &Event{Kind: EventDone}
	return d.terminal
}

func (d *Dispatch) fail(err error) *Event {
	d.phase = phaseDone
	d.terminal = &Event{Kind: EventError, Err: err}
	d.pending = nil
	d.answered = false
	return d.terminal
}

// newQuestion registers q as the outstanding question and assigns its
// correlation id.
func (d *Dispatch) newQuestion(q *Question) *Question {
	q.CorrelationID = types.NewCorrelationID()
	d.pending = q
	d.answered = false
	return q
}

func (d *Dispatch) questionEvent(q *Question) *Event {
	return &Event{Kind: EventHostQuestion, Question: q}
}

func (d *Dispatch) takeBoolAnswer() bool {
	v := d.boolAnswer
	d.clearAnswer()
	return v
}

func (d *Dispatch) takeTermAnswer() *types.Term {
	v := d.termAnswer
	d.clearAnswer()
	return v
}

func (d *Dispatch) clearAnswer() {
	d.pending = nil
	d.answered = false
	d.boolAnswer = false
	d.termAnswer = nil
}

// subtypeCached consults the per-dispatch cache. The class lattice cannot
// change mid-dispatch, so a repeated question between the same two classes
// is never re-asked.
func (d *Dispatch) subtypeCached(sub, super string) (bool, bool) {
	v, ok := d.subtype[subtypeKey{sub, super}]
	return v, ok
}

func (d *Dispatch) cacheSubtype(sub, super string, v bool) {
	d.subtype[subtypeKey{sub, super}] = v
}

// warnCycle logs a class-lattice cycle at most once per dispatch.
func (d *Dispatch) warnCycle(a, b string) {
	if d.cycleWarned {
		return
	}
	d.cycleWarned = true
	d.logger.Warn("class lattice reports a subtype cycle; treating classes as incomparable",
		zap.String("class_a", a),
		zap.String("class_b", b),
	)
}
