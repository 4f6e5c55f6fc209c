package expr

import (
	"strconv"
	"strings"
)

// BinaryOp compares two resolved values.
type BinaryOp func(left, right any) bool

// Option configures parsing.
type Option func(*parser)

// WithOperator registers a custom word operator, e.g. "startsWith".
func WithOperator(name string, fn BinaryOp) Option {
	return func(p *parser) {
		p.ops[name] = fn
	}
}

var builtinOps = map[string]BinaryOp{
	"==":       equals,
	"!=":       func(l, r any) bool { return !equals(l, r) },
	"<":        func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) },
	">":        func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) },
	"<=":       func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) },
	">=":       func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) },
	"contains": contains,
}

// Expr is a parsed guard. It is safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Parse parses src. An empty src always evaluates to true.
func Parse(src string, opts ...Option) (*Expr, error) {
	p := &parser{src: src, ops: make(map[string]BinaryOp, len(builtinOps))}
	for name, fn := range builtinOps {
		p.ops[name] = fn
	}
	for _, opt := range opts {
		opt(p)
	}

	if strings.TrimSpace(src) == "" {
		return &Expr{src: src, root: literal{value: true}}, nil
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p.toks = toks

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected "+strconv.Quote(tok.text))
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string, opts ...Option) *Expr {
	e, err := Parse(src, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval evaluates the expression against vars.
func (e *Expr) Eval(vars map[string]any) bool {
	return IsTruthy(e.root.eval(vars))
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Eval parses and evaluates src in one step.
func Eval(src string, vars map[string]any) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return e.Eval(vars), nil
}

type parser struct {
	src  string
	toks []token
	pos  int
	ops  map[string]BinaryOp
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, msg string) error {
	return &SyntaxError{Expr: p.src, Pos: tok.pos, Message: msg}
}

func (p *parser) isWord(word string) bool {
	tok := p.peek()
	return tok.kind == tokIdent && tok.text == word
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isWord("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logical{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isWord("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logical{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negate{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.peek().kind == tokLParen {
		open := p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf(open, "unclosed '('")
		}
		p.next()
		return inner, nil
	}

	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	var name string
	switch {
	case tok.kind == tokOp:
		name = tok.text
	case tok.kind == tokIdent && tok.text != "and" && tok.text != "or":
		if _, ok := p.ops[tok.text]; !ok {
			return nil, p.errorf(tok, "unknown operator "+strconv.Quote(tok.text))
		}
		name = tok.text
	default:
		return left, nil
	}
	p.next()

	right, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return comparison{op: p.ops[name], left: left, right: right}, nil
}

func (p *parser) parseValue() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return literal{value: tok.text}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return literal{value: i}, nil
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number "+strconv.Quote(tok.text))
		}
		return literal{value: f}, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "null", "nil":
			return literal{value: nil}, nil
		case "and", "or":
			return nil, p.errorf(tok, "expected a value, got "+strconv.Quote(tok.text))
		}
		return path{parts: strings.Split(tok.text, ".")}, nil
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	default:
		return nil, p.errorf(tok, "expected a value, got "+strconv.Quote(tok.text))
	}
}
