package rules

import (
	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Specificity comparator.
 *
 * Decides "is rule A more specific than rule B with respect to the query
 * arguments". Left-to-right lexicographic over parameter positions:
 *
 *   - identically specialized (or identically unspecialized) parameters are
 *     equally specific;
 *   - a specializer beats no specializer;
 *   - among class specializers, the proper subtype (per the host lattice)
 *     beats the supertype; mutually unrelated or cyclic classes are
 *     incomparable and the comparison moves to the next position;
 *   - field patterns beat the bare class;
 *   - among unspecialized parameters, a ground literal beats a variable.
 *
 * Subtype questions go to the host, so a comparison is itself a resumable
 * machine: it suspends on each question and consults the per-dispatch cache
 * before asking (the lattice cannot change mid-dispatch).
 *
 * Equally specific rules fall through to definition-id order in the sorter.
 */

const (
	cmpStageStart = iota
	cmpStageAwaitForward
	cmpStageCheckReverse
	cmpStageAwaitReverse
)

// comparison is one in-flight "a more specific than b" decision.
type comparison struct {
	a, b *applicable

	k       int
	stage   int
	forward bool // IsSubclass(a.class, b.class)

	result bool
}

func newComparison(a, b *applicable) *comparison {
	return &comparison{a: a, b: b}
}

// step advances the comparison. checkPassed means decided (read c.result);
// checkSuspended carries the next host question.
func (c *comparison) step(d *Dispatch) (checkStatus, *Question, error) {
	for c.k < len(c.a.profile) {
		pa := c.a.profile[c.k]
		pb := c.b.profile[c.k]

		if c.stage == cmpStageStart {
			decided, more, next := comparePosition(pa, pb)
			if decided {
				c.result = more
				return checkPassed, nil, nil
			}
			if next {
				c.k++
				continue
			}
			// Distinct class specializers: resolve via the lattice.
			if v, ok := d.subtypeCached(pa.class, pb.class); ok {
				c.forward = v
				c.stage = cmpStageCheckReverse
			} else {
				c.stage = cmpStageAwaitForward
				return checkSuspended, d.newQuestion(&Question{
					Kind:       QuestionIsSubclass,
					Class:      pa.class,
					OtherClass: pb.class,
				}), nil
			}
		}

		if c.stage == cmpStageAwaitForward {
			c.forward = d.takeBoolAnswer()
			d.cacheSubtype(c.a.profile[c.k].class, c.b.profile[c.k].class, c.forward)
			c.stage = cmpStageCheckReverse
		}

		if c.stage == cmpStageCheckReverse {
			if v, ok := d.subtypeCached(pb.class, pa.class); ok {
				if st := c.decide(d, c.forward, v); st == checkPassed {
					return checkPassed, nil, nil
				}
				continue
			}
			c.stage = cmpStageAwaitReverse
			return checkSuspended, d.newQuestion(&Question{
				Kind:       QuestionIsSubclass,
				Class:      pb.class,
				OtherClass: pa.class,
			}), nil
		}

		if c.stage == cmpStageAwaitReverse {
			reverse := d.takeBoolAnswer()
			d.cacheSubtype(pb.class, pa.class, reverse)
			if st := c.decide(d, c.forward, reverse); st == checkPassed {
				return checkPassed, nil, nil
			}
			continue
		}
	}
	// No position decided: not more specific. The sorter's stable
	// selection keeps the lower definition id first.
	c.result = false
	return checkPassed, nil, nil
}

// comparePosition handles every case that needs no host input.
// Returns (decided, moreSpecific, moveToNextPosition).
func comparePosition(pa, pb paramProfile) (bool, bool, bool) {
	if !pa.specialized && !pb.specialized {
		if pa.ground != pb.ground {
			return true, pa.ground, false
		}
		return false, false, true
	}
	if pa.specialized != pb.specialized {
		return true, pa.specialized, false
	}
	if types.Equal(pa.spec, pb.spec) {
		return false, false, true
	}
	if pa.class == pb.class {
		if pa.hasFields != pb.hasFields {
			return true, pa.hasFields, false
		}
		return false, false, true
	}
	return false, false, false
}

// decide resolves a position from both lattice directions. A proper subtype
// wins; a cycle (both directions) degrades to incomparable with one warning
// per dispatch; incomparable moves to the next position.
func (c *comparison) decide(d *Dispatch, forward, reverse bool) checkStatus {
	switch {
	case forward && !reverse:
		c.result = true
		return checkPassed
	case reverse && !forward:
		c.result = false
		return checkPassed
	case forward && reverse:
		d.warnCycle(c.a.profile[c.k].class, c.b.profile[c.k].class)
	}
	c.k++
	c.stage = cmpStageStart
	return checkSuspended // not decided; caller loops
}
