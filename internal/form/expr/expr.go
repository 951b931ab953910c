// Package expr implements the small expression language camp authors use in
// visibility rules, conditional requirements, validators and calculated
// values. Expressions are compiled once into a typed IR when the form schema
// is loaded; evaluation per submission never re-parses source text.
//
// The language: `{field}` and `{camp.attr}` references, number / quoted
// string / boolean literals, comparisons (=, <>, <, <=, >, >=), and/or/not,
// + and -, parentheses, and builtin function calls such as
// isAdult({date_of_birth}, {camp.startAt}).
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a compiled expression. All implementations are immutable after
// Parse, so a compiled node may be evaluated from any goroutine.
type Node interface {
	eval(b Bindings) any
}

type identNode struct {
	name string
}

type literalNode struct {
	val any
}

type unaryNode struct {
	op string // "not" | "-"
	x  Node
}

type binaryNode struct {
	op    string
	left  Node
	right Node
}

type callNode struct {
	name string
	args []Node
}

// ParseError reports malformed expression source. Schema compilation wraps
// it into a ConfigurationError; it must never surface to registrants.
type ParseError struct {
	Src string
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("expression %q: %s at position %d", e.Src, e.Msg, e.Pos)
}

// Parse compiles expression source into a Node. Unknown function names are a
// parse-time error so that authoring mistakes fail at camp load, not during
// a registration.
func Parse(src string) (Node, error) {
	p := &parser{lex: newLexer(src), src: src}
	p.next()

	n, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}

	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}

	return n, nil
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokRef // {field} or {camp.attr}
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}

	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '{':
		end := strings.IndexByte(l.src[l.pos:], '}')
		if end < 0 {
			return token{}, fmt.Errorf("unterminated reference at %d", start)
		}
		name := strings.TrimSpace(l.src[l.pos+1 : l.pos+end])
		if name == "" {
			return token{}, fmt.Errorf("empty reference at %d", start)
		}
		l.pos += end + 1
		return token{kind: tokRef, text: name, pos: start}, nil

	case c == '\'' || c == '"':
		quote := c
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string at %d", start)
		}
		l.pos++
		return token{kind: tokString, text: sb.String(), pos: start}, nil

	case c >= '0' && c <= '9':
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil

	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil

	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil

	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil

	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil

	default:
		for _, op := range []string{"<=", ">=", "<>", "!=", "==", "=", "<", ">", "+", "-", "!"} {
			if strings.HasPrefix(l.src[l.pos:], op) {
				l.pos += len(op)
				return token{kind: tokOp, text: op, pos: start}, nil
			}
		}
		return token{}, fmt.Errorf("unexpected character %q at %d", string(c), start)
	}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// --- parser (precedence climbing) ---

type parser struct {
	lex *lexer
	src string
	tok token
	err error
}

func (p *parser) next() {
	if p.err != nil {
		return
	}
	t, err := p.lex.lex()
	if err != nil {
		p.err = &ParseError{Src: p.src, Pos: p.lex.pos, Msg: err.Error()}
		p.tok = token{kind: tokEOF, pos: p.lex.pos}
		return
	}
	p.tok = t
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return &ParseError{Src: p.src, Pos: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
}

// binding power per operator; higher binds tighter.
func precedence(op string) int {
	switch op {
	case "or":
		return 1
	case "and":
		return 2
	case "=", "==", "<>", "!=":
		return 3
	case "<", "<=", ">", ">=":
		return 4
	case "+", "-":
		return 5
	default:
		return 0
	}
}

func normalizeOp(op string) string {
	switch op {
	case "==":
		return "="
	case "!=":
		return "<>"
	default:
		return op
	}
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.currentBinaryOp()
		if !ok {
			return left, nil
		}

		prec := precedence(op)
		if prec < minPrec {
			return left, nil
		}

		p.next()

		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: normalizeOp(op), left: left, right: right}
	}
}

func (p *parser) currentBinaryOp() (string, bool) {
	switch p.tok.kind {
	case tokOp:
		if p.tok.text == "!" {
			return "", false
		}
		return p.tok.text, true
	case tokIdent:
		lower := strings.ToLower(p.tok.text)
		if lower == "and" || lower == "or" {
			return lower, true
		}
		return "", false
	default:
		return "", false
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.err != nil {
		return nil, p.err
	}

	if p.tok.kind == tokOp && (p.tok.text == "!" || p.tok.text == "-") {
		op := "not"
		if p.tok.text == "-" {
			op = "-"
		}
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, x: x}, nil
	}

	if p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "not") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", x: x}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	if p.err != nil {
		return nil, p.err
	}

	switch p.tok.kind {
	case tokRef:
		n := &identNode{name: p.tok.text}
		p.next()
		return n, nil

	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.tok.text)
		}
		p.next()
		return &literalNode{val: f}, nil

	case tokString:
		n := &literalNode{val: p.tok.text}
		p.next()
		return n, nil

	case tokLParen:
		p.next()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected )")
		}
		p.next()
		return inner, nil

	case tokIdent:
		name := p.tok.text
		lower := strings.ToLower(name)

		if lower == "true" {
			p.next()
			return &literalNode{val: true}, nil
		}
		if lower == "false" {
			p.next()
			return &literalNode{val: false}, nil
		}
		if lower == "null" || lower == "undefined" {
			p.next()
			return &literalNode{val: nil}, nil
		}

		p.next()

		if p.tok.kind != tokLParen {
			return nil, p.errorf("bare identifier %q, field references use {%s}", name, name)
		}

		if _, ok := builtins[name]; !ok {
			return nil, p.errorf("unknown function %q", name)
		}

		p.next()

		var args []Node
		if p.tok.kind != tokRParen {
			for {
				arg, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)

				if p.tok.kind == tokComma {
					p.next()
					continue
				}
				break
			}
		}

		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ) after arguments of %q", name)
		}
		p.next()

		return &callNode{name: name, args: args}, nil

	default:
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
}
