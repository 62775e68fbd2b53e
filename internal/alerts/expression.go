package alerts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/willibrandon/tollgate/internal/traffic"
)

// summaryFields maps the names usable in a rule metric to their accessors.
var summaryFields = map[string]func(traffic.Summary) float64{
	"request_rate":   func(s traffic.Summary) float64 { return s.RequestRate },
	"latency_p50":    func(s traffic.Summary) float64 { return s.LatencyP50 },
	"latency_p95":    func(s traffic.Summary) float64 { return s.LatencyP95 },
	"error_rate_4xx": func(s traffic.Summary) float64 { return s.ErrorRate4xx },
	"error_rate_5xx": func(s traffic.Summary) float64 { return s.ErrorRate5xx },
}

// FieldNames lists the summary fields a metric expression may reference.
func FieldNames() []string {
	names := make([]string, 0, len(summaryFields))
	for name := range summaryFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expression is a compiled arithmetic expression over summary fields.
type Expression interface {
	// Eval computes the expression for one summary.
	Eval(s traffic.Summary) (float64, error)
	// Fields returns the summary fields the expression reads.
	Fields() []string
	String() string
}

type fieldRef struct {
	name string
	get  func(traffic.Summary) float64
}

func (f fieldRef) Eval(s traffic.Summary) (float64, error) {
	return f.get(s), nil
}

func (f fieldRef) Fields() []string {
	return []string{f.name}
}

func (f fieldRef) String() string {
	return f.name
}

type constant float64

func (c constant) Eval(traffic.Summary) (float64, error) {
	return float64(c), nil
}

func (c constant) Fields() []string {
	return nil
}

func (c constant) String() string {
	return strconv.FormatFloat(float64(c), 'g', -1, 64)
}

type negate struct {
	x Expression
}

func (n negate) Eval(s traffic.Summary) (float64, error) {
	v, err := n.x.Eval(s)
	return -v, err
}

func (n negate) Fields() []string {
	return n.x.Fields()
}

func (n negate) String() string {
	return "-" + n.x.String()
}

type binary struct {
	op          byte
	left, right Expression
}

func (b binary) Eval(s traffic.Summary) (float64, error) {
	l, err := b.left.Eval(s)
	if err != nil {
		return 0, err
	}
	r, err := b.right.Eval(s)
	if err != nil {
		return 0, err
	}

	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("division by zero in %s", b)
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

func (b binary) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range append(b.left.Fields(), b.right.Fields()...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (b binary) String() string {
	return "(" + b.left.String() + " " + string(b.op) + " " + b.right.String() + ")"
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case strings.ContainsRune("+-*/", c):
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

type compiler struct {
	toks []token
	pos  int
}

func (c *compiler) peek() token {
	return c.toks[c.pos]
}

func (c *compiler) next() token {
	t := c.toks[c.pos]
	if t.kind != tokEOF {
		c.pos++
	}
	return t
}

// expr := term { ("+" | "-") term }

func (c *compiler) expr() (Expression, error) {
	left, err := c.term()
	if err != nil {
		return nil, err
	}
	for t := c.peek(); t.kind == tokOp && (t.text == "+" || t.text == "-"); t = c.peek() {
		c.next()
		right, err := c.term()
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text[0], left: left, right: right}
	}
	return left, nil
}

// term := factor { ("*" | "/") factor }

func (c *compiler) term() (Expression, error) {
	left, err := c.factor()
	if err != nil {
		return nil, err
	}
	for t := c.peek(); t.kind == tokOp && (t.text == "*" || t.text == "/"); t = c.peek() {
		c.next()
		right, err := c.factor()
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text[0], left: left, right: right}
	}
	return left, nil
}

// factor := number | field | "(" expr ")" | "-" factor
func (c *compiler) factor() (Expression, error) {
	t := c.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return constant(v), nil
	case tokIdent:
		get, ok := summaryFields[t.text]
		if !ok {
			return nil, fmt.Errorf("unknown field %q at position %d (known: %s)", t.text, t.pos, strings.Join(FieldNames(), ", "))
		}
		return fieldRef{name: t.text, get: get}, nil
	case tokLParen:
		inner, err := c.expr()
		if err != nil {
			return nil, err
		}
		if closing := c.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
		}
		return inner, nil
	case tokOp:
		if t.text == "-" {
			x, err := c.factor()
			if err != nil {
				return nil, err
			}
			return negate{x: x}, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

// CompileExpression parses src and binds every field reference. Unknown
// fields fail here rather than at evaluation time.
func CompileExpression(src string) (Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{toks: toks}
	e, err := c.expr()
	if err != nil {
		return nil, err
	}
	if t := c.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return e, nil
}
