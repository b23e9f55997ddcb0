package filter

import (
	"fmt"
	"strings"
)

// ParseError describes a malformed filter string.
type ParseError struct {
	Input    string // the complete filter string
	Pos      int    // byte offset of the failure
	Fragment string // the offending part of Input
	Msg      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid filter %q: %s at position %d near %q", e.Input, e.Msg, e.Pos, e.Fragment)
}

// Parse parses an LDAP-style filter string.
//
//	filter     = "(" filtercomp ")"
//	filtercomp = "&" filter+ | "|" filter+ | "!" filter | item
//	item       = attr ( "=" | "~=" | ">=" | "<=" | ">" | "<" ) value
//
// Inside values `\(`, `\)`, `\*` and `\\` escape the special characters.
// An equality value containing unescaped '*' is a substring pattern, and a
// value of only '*' tests presence. The string "(*)" parses to MatchAll.
func Parse(s string) (*Filter, error) {
	p := &parser{input: s}
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf(0, len(s), "empty expression")
	}
	if strings.TrimSpace(s) == "(*)" {
		return MatchAll(), nil
	}

	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf(p.pos, len(s), "unexpected trailing input")
	}
	return f, nil
}

// MustParse is Parse that panics on error.
func MustParse(s string) *Filter {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

type parser struct {
	input string
	pos   int
}

func (p *parser) eof() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errorf(start, end int, format string, args ...any) *ParseError {
	if end > len(p.input) {
		end = len(p.input)
	}
	if start > end {
		start = end
	}
	return &ParseError{
		Input:    p.input,
		Pos:      start,
		Fragment: p.input[start:end],
		Msg:      fmt.Sprintf(format, args...),
	}
}

// parseFilter parses one parenthesised filter starting at p.pos.
func (p *parser) parseFilter() (*Filter, error) {
	start := p.pos
	if p.peek() != '(' {
		return nil, p.errorf(p.pos, p.pos+1, "missing opening parenthesis")
	}
	p.pos++
	p.skipSpace()

	var (
		f   *Filter
		err error
	)
	switch p.peek() {
	case '&', '|':
		op := OpAnd
		if p.peek() == '|' {
			op = OpOr
		}
		p.pos++
		f, err = p.parseComposite(start, op)
	case '!':
		p.pos++
		f, err = p.parseNot(start)
	default:
		f, err = p.parseItem(start)
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.peek() != ')' {
		return nil, p.errorf(start, p.pos+1, "missing closing parenthesis")
	}
	p.pos++
	return f, nil
}

func (p *parser) parseComposite(start int, op Op) (*Filter, error) {
	var children []*Filter
	for {
		p.skipSpace()
		if p.peek() != '(' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, p.errorf(start, p.pos+1, "empty %q expression", op.String())
	}
	return &Filter{op: op, children: children}, nil
}

func (p *parser) parseNot(start int) (*Filter, error) {
	p.skipSpace()
	if p.peek() != '(' {
		return nil, p.errorf(start, p.pos+1, "negation requires an operand")
	}
	child, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() == '(' {
		return nil, p.errorf(start, p.pos+1, "negation takes exactly one operand")
	}
	return Not(child), nil
}

func (p *parser) parseItem(start int) (*Filter, error) {
	nameStart := p.pos
	for !p.eof() && !strings.ContainsRune("=<>~()", rune(p.peek())) {
		p.pos++
	}
	name := strings.TrimSpace(p.input[nameStart:p.pos])

	switch {
	case name == "" && (p.eof() || p.peek() == ')' || p.peek() == '('):
		return nil, p.errorf(start, p.pos+1, "empty expression")
	case name == "":
		return nil, p.errorf(start, p.pos+1, "missing attribute name")
	case p.eof(), p.peek() == '(', p.peek() == ')':
		return nil, p.errorf(start, p.pos+1, "missing operator after %q", name)
	}

	opPos := p.pos
	var op Op
	switch p.peek() {
	case '=':
		op = OpEqual
		p.pos++
	case '~':
		if p.pos+1 >= len(p.input) || p.input[p.pos+1] != '=' {
			return nil, p.errorf(opPos, opPos+2, "unknown operator")
		}
		op = OpApprox
		p.pos += 2
	case '>', '<':
		greater := p.peek() == '>'
		p.pos++
		orEqual := p.peek() == '='
		if orEqual {
			p.pos++
		}
		switch {
		case greater && orEqual:
			op = OpGreaterEqual
		case greater:
			op = OpGreater
		case orEqual:
			op = OpLessEqual
		default:
			op = OpLess
		}
	}

	return p.parseValue(start, name, op)
}

// parseValue reads the literal up to the next unescaped ')', leaving p.pos on
// it. Escapes are resolved; for equality, unescaped stars split the value
// into substring segments.
func (p *parser) parseValue(start int, name string, op Op) (*Filter, error) {
	var (
		segs    []string
		cur     strings.Builder
		starred bool
	)
loop:
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\':
			if p.pos+1 >= len(p.input) {
				return nil, p.errorf(p.pos, p.pos+1, "dangling escape")
			}
			cur.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		case c == ')':
			break loop
		case c == '(':
			return nil, p.errorf(start, p.pos+1, "unescaped '(' in value")
		case c == '*' && op == OpEqual:
			starred = true
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
		p.pos++
	}
	segs = append(segs, cur.String())

	if starred {
		return substringOrPresent(name, segs), nil
	}
	return &Filter{op: op, attr: name, value: segs[0]}, nil
}
