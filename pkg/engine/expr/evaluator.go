// Package expr implements the embedded expression dialect used for step
// configuration and data binding: literals, dotted field paths, and the
// binary + operator. The dialect is deliberately small; it has no
// assignment, branching, or loops.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc resolves the root identifier of a field path. The evaluator
// walks the remaining segments through the returned value itself.
type LookupFunc func(name string) (any, bool)

var (
	// ErrSyntax indicates the expression source could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrFieldNotFound indicates a field path segment is missing or its parent is not a container.
	ErrFieldNotFound = errors.New("field not found")
	// ErrTypeMismatch indicates an operator was applied to unsupported operand types.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Expr is the parsed form of one expression source. It is immutable and safe
// to evaluate repeatedly and concurrently against independent lookups.
type Expr struct {
	source string
	root   node
}

// Parse compiles an expression source. Parsing is pure: the same source
// always yields an equivalent Expr or the same error.
func Parse(source string) (*Expr, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	p := newParser(newLexer(trimmed))
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	return &Expr{source: trimmed, root: root}, nil
}

// Source returns the trimmed source the expression was parsed from.
func (e *Expr) Source() string {
	return e.source
}

// Eval evaluates the expression against the supplied root lookup. Evaluation
// is side-effect-free; errors are ErrFieldNotFound or ErrTypeMismatch.
func (e *Expr) Eval(lookup LookupFunc) (any, error) {
	if lookup == nil {
		lookup = func(string) (any, bool) { return nil, false }
	}
	return e.root.eval(lookup)
}

// MapLookup adapts a plain map to a LookupFunc.
func MapLookup(values map[string]any) LookupFunc {
	return func(name string) (any, bool) {
		v, ok := values[name]
		return v, ok
	}
}

// Template markers delimit expression strings inside otherwise literal
// configuration values: a string wholly wrapped in ${ ... } is an expression.

// FromTemplate reports whether the value is an expression template and, if
// so, returns the inner source.
func FromTemplate(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// --- Lexer ---

type tokenType int

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenPlus
	tokenMinus
	tokenLParen
	tokenRParen
)

func (t tokenType) String() string {
	switch t {
	case tokenIllegal:
		return "illegal"
	case tokenEOF:
		return "eof"
	case tokenIdentifier:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenBool:
		return "bool"
	case tokenNull:
		return "null"
	case tokenPlus:
		return "+"
	case tokenMinus:
		return "-"
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	default:
		return "unknown"
	}
}

type token struct {
	typ     tokenType
	literal string
}

type lexer struct {
	input  string
	length int
	pos    int
}

func newLexer(input string) *lexer {
	return &lexer{input: input, length: len(input)}
}

func (l *lexer) nextToken() token {
	l.skipWhitespace()
	if l.pos >= l.length {
		return token{typ: tokenEOF}
	}

	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, literal: "("}
	case ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")"}
	case '+':
		l.pos++
		return token{typ: tokenPlus, literal: "+"}
	case '-':
		l.pos++
		return token{typ: tokenMinus, literal: "-"}
	case '\'', '"':
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}

	if isIdentifierStart(ch) {
		return l.scanIdentifier()
	}

	return token{typ: tokenIllegal, literal: string(ch)}
}

func (l *lexer) skipWhitespace() {
	for l.pos < l.length {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) advance() byte {
	if l.pos >= l.length {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	return ch
}

func (l *lexer) scanNumber() token {
	start := l.pos
	hasDot := false

	for l.pos < l.length {
		ch := l.input[l.pos]
		if ch == '.' {
			if hasDot {
				break
			}
			// A dot is only part of the number when a digit follows; otherwise
			// it would swallow the start of a trailing field path.
			if l.pos+1 >= l.length || !isDigit(l.input[l.pos+1]) {
				break
			}
			hasDot = true
			l.pos++
			continue
		}
		if !isDigit(ch) {
			break
		}
		l.pos++
	}

	return token{typ: tokenNumber, literal: l.input[start:l.pos]}
}

func (l *lexer) scanIdentifier() token {
	start := l.pos
	for l.pos < l.length {
		if isIdentifierPart(l.input[l.pos]) {
			l.pos++
			continue
		}
		break
	}
	literal := l.input[start:l.pos]
	switch literal {
	case "true", "false":
		return token{typ: tokenBool, literal: literal}
	case "null":
		return token{typ: tokenNull, literal: literal}
	}
	return token{typ: tokenIdentifier, literal: literal}
}

func (l *lexer) scanString() token {
	quote := l.advance()
	var builder strings.Builder
	escaped := false

	for l.pos < l.length {
		ch := l.advance()
		if escaped {
			switch ch {
			case 'n':
				builder.WriteByte('\n')
			case 't':
				builder.WriteByte('\t')
			case 'r':
				builder.WriteByte('\r')
			default:
				builder.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return token{typ: tokenString, literal: builder.String()}
		}
		builder.WriteByte(ch)
	}

	return token{typ: tokenIllegal, literal: "unterminated string"}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentifierPart(ch byte) bool {
	switch {
	case isIdentifierStart(ch):
		return true
	case isDigit(ch):
		return true
	case ch == '.', ch == '-':
		return true
	}
	return false
}

// --- Parser ---

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

func newParser(lex *lexer) *parser {
	p := &parser{lex: lex}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *parser) nextToken() {
	p.cur = p.peek
	p.peek = p.lex.nextToken()
}

func (p *parser) parseExpression() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.cur.typ == tokenPlus {
		p.nextToken()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &addExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur.typ == tokenMinus {
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negExpr{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.cur
	switch tok.typ {
	case tokenIdentifier:
		p.nextToken()
		return &pathExpr{path: tok.literal, segments: strings.Split(tok.literal, ".")}, nil
	case tokenNumber:
		p.nextToken()
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		return &literalExpr{value: value}, nil
	case tokenString:
		p.nextToken()
		return &literalExpr{value: tok.literal}, nil
	case tokenBool:
		p.nextToken()
		return &literalExpr{value: tok.literal == "true"}, nil
	case tokenNull:
		p.nextToken()
		return &literalExpr{value: nil}, nil
	case tokenLParen:
		p.nextToken()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		p.nextToken()
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok.literal)
	}
}

func (p *parser) expect(expected tokenType) error {
	if p.cur.typ == tokenIllegal {
		return fmt.Errorf("%w: %s", ErrSyntax, p.cur.literal)
	}
	if p.cur.typ != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrSyntax, expected.String(), p.cur.typ.String())
	}
	return nil
}

// --- AST nodes ---

type node interface {
	eval(lookup LookupFunc) (any, error)
}

type literalExpr struct {
	value any
}

func (n *literalExpr) eval(LookupFunc) (any, error) {
	return n.value, nil
}

type pathExpr struct {
	path     string
	segments []string
}

func (n *pathExpr) eval(lookup LookupFunc) (any, error) {
	current, ok := lookup(n.segments[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, n.segments[0])
	}

	for i, segment := range n.segments[1:] {
		container, ok := asContainer(current)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a container (resolving %s)",
				ErrFieldNotFound, strings.Join(n.segments[:i+1], "."), n.path)
		}
		current, ok = container[segment]
		if !ok {
			return nil, fmt.Errorf("%w: %s (resolving %s)",
				ErrFieldNotFound, strings.Join(n.segments[:i+2], "."), n.path)
		}
	}

	return current, nil
}

func asContainer(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[string]string:
		m := make(map[string]any, len(v))
		for key, val := range v {
			m[key] = val
		}
		return m, true
	default:
		return nil, false
	}
}

type addExpr struct {
	left  node
	right node
}

func (n *addExpr) eval(lookup LookupFunc) (any, error) {
	left, err := n.left.eval(lookup)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(lookup)
	if err != nil {
		return nil, err
	}
	return add(left, right)
}

type negExpr struct {
	operand node
}

func (n *negExpr) eval(lookup LookupFunc) (any, error) {
	value, err := n.operand.eval(lookup)
	if err != nil {
		return nil, err
	}
	number, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: unary - expects numeric operand, got %T", ErrTypeMismatch, value)
	}
	return -number, nil
}

// --- Operator semantics ---

// add implements the overloaded + operator: numbers add; if either operand
// is a string the result is concatenation, with the other operand required
// to be a string or a number. Booleans and nulls never participate.
func add(left, right any) (any, error) {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf + rf, nil
		}
	}

	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)
	if leftIsString || rightIsString {
		if !leftIsString {
			formatted, ok := stringify(left)
			if !ok {
				return nil, fmt.Errorf("%w: cannot concatenate %T and string", ErrTypeMismatch, left)
			}
			ls = formatted
		}
		if !rightIsString {
			formatted, ok := stringify(right)
			if !ok {
				return nil, fmt.Errorf("%w: cannot concatenate string and %T", ErrTypeMismatch, right)
			}
			rs = formatted
		}
		return ls + rs, nil
	}

	return nil, fmt.Errorf("%w: cannot apply + to %T and %T", ErrTypeMismatch, left, right)
}

func stringify(value any) (string, bool) {
	if f, ok := toFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
