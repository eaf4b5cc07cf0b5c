package parser

import (
	"fmt"
	"strconv"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * Recursive-descent parser.
 *
 * Grammar:
 *
 *   policy     := rule*
 *   rule       := ident "(" params? ")" ("if" body)? ";"
 *   params     := param ("," param)*
 *   param      := term (":" specializer)?
 *   specializer:= TypeIdent ("{" fields? "}")?
 *   body       := disj
 *   disj       := conj ("or" conj)*
 *   conj       := subgoal ("and" subgoal)*
 *   subgoal    := "not" subgoal | "true" | "false"
 *              |  ident "(" args? ")"            (predicate call)
 *              |  term op term                   (comparison / unification)
 *   term       := var | "_" | string | number | bool | list | dict
 *              |  TypeIdent ("{" fields? "}")?   (symbol or pattern)
 *
 * Lowercase identifiers are variables (or predicate names in call
 * position); "_" is a fresh anonymous variable per occurrence. Validation
 * happens here, at parse time: term depth and specializer field counts are
 * checked before a rule ever reaches the registry.
 */

type parser struct {
	lex   *lexer
	tok   token
	anonN int
}

// ParsePolicy parses a complete policy source into rule definitions.
func ParsePolicy(src string) ([]*types.Rule, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.bump(); err != nil {
		return nil, err
	}
	var out []*types.Rule
	for p.tok.kind != tokEOF {
		r, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseQuery parses a single predicate call, e.g. `allow("alice", "GET", path)`.
func ParseQuery(src string) (string, []*types.Term, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.bump(); err != nil {
		return "", nil, err
	}
	if p.tok.kind != tokIdent {
		return "", nil, p.errf("expected predicate name, got %s", p.tok)
	}
	name := p.tok.text
	if err := p.bump(); err != nil {
		return "", nil, err
	}
	args, err := p.parseCallArgs()
	if err != nil {
		return "", nil, err
	}
	if p.tok.kind != tokEOF {
		return "", nil, p.errf("unexpected trailing input %s", p.tok)
	}
	return name, args, nil
}

func (p *parser) bump() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("line %d:%d: %s", p.tok.line, p.tok.col, fmt.Sprintf(format, args...))
}

func (p *parser) expectPunct(s string) error {
	if p.tok.kind != tokPunct || p.tok.text != s {
		return p.errf("expected %q, got %s", s, p.tok)
	}
	return p.bump()
}

func (p *parser) atPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) atKeyword(s string) bool {
	return p.tok.kind == tokIdent && p.tok.text == s
}

func (p *parser) parseRule() (*types.Rule, error) {
	if p.tok.kind != tokIdent {
		return nil, p.errf("expected rule name, got %s", p.tok)
	}
	r := &types.Rule{
		Name: p.tok.text,
		Pos:  types.Position{Line: p.tok.line, Col: p.tok.col},
	}
	if err := p.bump(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.atPunct(")") {
		param, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		r.Params = append(r.Params, param)
		if p.atPunct(",") {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	if p.atKeyword("if") {
		if err := p.bump(); err != nil {
			return nil, err
		}
		body, err := p.parseDisj()
		if err != nil {
			return nil, err
		}
		r.Body = body
	} else {
		r.Body = types.NewBoolean(true)
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *parser) parseParam() (types.Parameter, error) {
	value, err := p.parseTerm(0)
	if err != nil {
		return types.Parameter{}, err
	}
	param := types.Parameter{Value: value}
	if p.atPunct(":") {
		if err := p.bump(); err != nil {
			return types.Parameter{}, err
		}
		if p.tok.kind != tokTypeIdent {
			return types.Parameter{}, p.errf("expected class name after ':', got %s", p.tok)
		}
		spec, err := p.parsePattern()
		if err != nil {
			return types.Parameter{}, err
		}
		if len(spec.Fields) > types.MaxPatternFields {
			return types.Parameter{}, types.ErrTooManyPatternFields
		}
		param.Specializer = spec
	}
	return param, nil
}

// parsePattern parses TypeIdent with optional field block into a pattern
// term. Called with the current token being the TypeIdent.
func (p *parser) parsePattern() (*types.Term, error) {
	class := p.tok.text
	pos := types.Position{Line: p.tok.line, Col: p.tok.col}
	if err := p.bump(); err != nil {
		return nil, err
	}
	pat := types.NewPattern(class, map[string]*types.Term{})
	pat.Pos = pos
	if !p.atPunct("{") {
		return pat, nil
	}
	if err := p.bump(); err != nil {
		return nil, err
	}
	for !p.atPunct("}") {
		if p.tok.kind != tokIdent {
			return nil, p.errf("expected field name, got %s", p.tok)
		}
		field := p.tok.text
		if err := p.bump(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		value, err := p.parseTerm(1)
		if err != nil {
			return nil, err
		}
		if _, dup := pat.Fields[field]; dup {
			return nil, p.errf("duplicate field %q", field)
		}
		pat.Fields[field] = value
		if p.atPunct(",") {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return pat, nil
}

func (p *parser) parseDisj() (*types.Term, error) {
	first, err := p.parseConj()
	if err != nil {
		return nil, err
	}
	branches := []*types.Term{first}
	for p.atKeyword("or") {
		if err := p.bump(); err != nil {
			return nil, err
		}
		next, err := p.parseConj()
		if err != nil {
			return nil, err
		}
		branches = append(branches, next)
	}
	if len(branches) == 1 {
		return first, nil
	}
	return types.NewExpression("or", branches...), nil
}

func (p *parser) parseConj() (*types.Term, error) {
	first, err := p.parseSubgoal()
	if err != nil {
		return nil, err
	}
	goals := []*types.Term{first}
	for p.atKeyword("and") {
		if err := p.bump(); err != nil {
			return nil, err
		}
		next, err := p.parseSubgoal()
		if err != nil {
			return nil, err
		}
		goals = append(goals, next)
	}
	if len(goals) == 1 {
		return first, nil
	}
	return types.NewExpression("and", goals...), nil
}

func (p *parser) parseSubgoal() (*types.Term, error) {
	if p.atKeyword("not") {
		if err := p.bump(); err != nil {
			return nil, err
		}
		inner, err := p.parseSubgoal()
		if err != nil {
			return nil, err
		}
		return types.NewExpression("not", inner), nil
	}
	if p.atKeyword("true") || p.atKeyword("false") {
		v := p.tok.text == "true"
		if err := p.bump(); err != nil {
			return nil, err
		}
		return types.NewBoolean(v), nil
	}

	// A lowercase identifier followed by "(" is a predicate call;
	// otherwise fall through to a comparison whose left side is a term.
	if p.tok.kind == tokIdent {
		name := p.tok.text
		pos := types.Position{Line: p.tok.line, Col: p.tok.col}
		if err := p.bump(); err != nil {
			return nil, err
		}
		if p.atPunct("(") {
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			call := types.NewCall(name, args...)
			call.Pos = pos
			return call, nil
		}
		left := p.identTerm(name, pos)
		return p.parseComparison(left)
	}

	left, err := p.parseTerm(0)
	if err != nil {
		return nil, err
	}
	return p.parseComparison(left)
}

func (p *parser) parseComparison(left *types.Term) (*types.Term, error) {
	if p.tok.kind != tokOp {
		return nil, p.errf("expected operator after %s", types.Format(left))
	}
	op := p.tok.text
	if err := p.bump(); err != nil {
		return nil, err
	}
	right, err := p.parseTerm(0)
	if err != nil {
		return nil, err
	}
	return types.NewExpression(op, left, right), nil
}

// parseCallArgs parses "(" term, ... ")" with the current token at "(".
func (p *parser) parseCallArgs() ([]*types.Term, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []*types.Term
	for !p.atPunct(")") {
		t, err := p.parseTerm(0)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
		if p.atPunct(",") {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parseTerm(depth int) (*types.Term, error) {
	if depth > types.MaxTermDepth {
		return nil, types.ErrTermTooDeep
	}
	pos := types.Position{Line: p.tok.line, Col: p.tok.col}

	switch p.tok.kind {
	case tokString:
		t := types.NewString(p.tok.text)
		t.Pos = pos
		return t, p.bump()

	case tokInt:
		n, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer %q", p.tok.text)
		}
		t := types.NewInt(n)
		t.Pos = pos
		return t, p.bump()

	case tokFloat:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, p.errf("invalid number %q", p.tok.text)
		}
		t := types.NewFloat(f)
		t.Pos = pos
		return t, p.bump()

	case tokIdent:
		name := p.tok.text
		if err := p.bump(); err != nil {
			return nil, err
		}
		return p.identTerm(name, pos), nil

	case tokTypeIdent:
		return p.parsePattern()

	case tokPunct:
		switch p.tok.text {
		case "[":
			return p.parseList(depth, pos)
		case "{":
			return p.parseDict(depth, pos)
		}
	}
	return nil, p.errf("expected a term, got %s", p.tok)
}

// identTerm maps a lowercase identifier in term position. "_" mints a fresh
// anonymous variable; true/false are booleans; everything else is a
// variable.
func (p *parser) identTerm(name string, pos types.Position) *types.Term {
	var t *types.Term
	switch name {
	case "_":
		p.anonN++
		t = types.NewVariable(fmt.Sprintf("_%d", p.anonN))
	case "true":
		t = types.NewBoolean(true)
	case "false":
		t = types.NewBoolean(false)
	default:
		t = types.NewVariable(name)
	}
	t.Pos = pos
	return t
}

func (p *parser) parseList(depth int, pos types.Position) (*types.Term, error) {
	if err := p.bump(); err != nil { // consume "["
		return nil, err
	}
	items := []*types.Term{}
	for !p.atPunct("]") {
		it, err := p.parseTerm(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
		if p.atPunct(",") {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	t := types.NewList(items...)
	t.Pos = pos
	return t, nil
}

func (p *parser) parseDict(depth int, pos types.Position) (*types.Term, error) {
	if err := p.bump(); err != nil { // consume "{"
		return nil, err
	}
	fields := map[string]*types.Term{}
	for !p.atPunct("}") {
		if p.tok.kind != tokIdent && p.tok.kind != tokString {
			return nil, p.errf("expected dict key, got %s", p.tok)
		}
		key := p.tok.text
		if err := p.bump(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := p.parseTerm(depth + 1)
		if err != nil {
			return nil, err
		}
		if _, dup := fields[key]; dup {
			return nil, p.errf("duplicate key %q", key)
		}
		fields[key] = v
		if p.atPunct(",") {
			if err := p.bump(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	t := types.NewDict(fields)
	t.Pos = pos
	return t, nil
}
