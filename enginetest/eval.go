package enginetest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mallardjs/mallard/engine"
)

// The evaluator covers the expression subset the bridge tests need: number,
// string, boolean, null and undefined literals, object and array literals,
// identifiers resolved against the global object, additive and multiplicative
// arithmetic, string concatenation, property access, indexing, and calls.

type expr interface{}

type numberLit float64
type stringLit string
type boolLit bool
type nullLit struct{}
type undefinedLit struct{}
type ident string

type binary struct {
	op          byte
	left, right expr
}

type property struct {
	base expr
	name string
}

type indexExpr struct {
	base, key expr
}

type call struct {
	callee expr
	args   []expr
}

// assign is the one statement form: a top-level `name = expr` binds a
// global, which is how scripts hand objects back to the host by name.
type assign struct {
	name string
	val  expr
}

type objectLit struct {
	keys []string
	vals []expr
}

type arrayLit struct {
	elems []expr
}

// Evaluation.

func (e *Engine) eval(x expr, file string) (value, error) {
	switch x := x.(type) {
	case numberLit:
		return value{kind: engine.TypeNumber, n: float64(x)}, nil
	case stringLit:
		return value{kind: engine.TypeString, s: string(x)}, nil
	case boolLit:
		return value{kind: engine.TypeBoolean, b: bool(x)}, nil
	case nullLit:
		return value{kind: engine.TypeNull}, nil
	case undefinedLit:
		return undefined, nil
	case ident:
		v, ok := e.global.props[string(x)]
		if !ok {
			return undefined, fmt.Errorf("ReferenceError: %q is not defined", string(x))
		}
		return v, nil
	case assign:
		v, err := e.eval(x.val, file)
		if err != nil {
			return undefined, err
		}
		e.global.props[x.name] = v
		return v, nil
	case binary:
		return e.evalBinary(x, file)
	case property:
		base, err := e.eval(x.base, file)
		if err != nil {
			return undefined, err
		}
		return e.member(base, x.name)
	case indexExpr:
		base, err := e.eval(x.base, file)
		if err != nil {
			return undefined, err
		}
		key, err := e.eval(x.key, file)
		if err != nil {
			return undefined, err
		}
		if base.kind == engine.TypeObject && base.obj.target().array && key.kind == engine.TypeNumber {
			i := int(key.n)
			elems := base.obj.target().elems
			if i < 0 || i >= len(elems) {
				return undefined, nil
			}
			return elems[i], nil
		}
		return e.member(base, stringify(key))
	case call:
		return e.evalCall(x, file)
	case objectLit:
		o := e.newObject()
		for i, k := range x.keys {
			v, err := e.eval(x.vals[i], file)
			if err != nil {
				return undefined, err
			}
			o.props[k] = v
		}
		return objValue(o), nil
	case arrayLit:
		o := e.newObject()
		o.array = true
		for _, el := range x.elems {
			v, err := e.eval(el, file)
			if err != nil {
				return undefined, err
			}
			o.elems = append(o.elems, v)
		}
		return objValue(o), nil
	default:
		return undefined, fmt.Errorf("SyntaxError: unsupported expression")
	}
}

func (e *Engine) member(base value, name string) (value, error) {
	if base.kind != engine.TypeObject {
		return undefined, fmt.Errorf("TypeError: cannot read property %q of %s", name, stringify(base))
	}
	v, _, err := e.getPropValue(base.obj, name)
	return v, err
}

func (e *Engine) evalBinary(x binary, file string) (value, error) {
	left, err := e.eval(x.left, file)
	if err != nil {
		return undefined, err
	}
	right, err := e.eval(x.right, file)
	if err != nil {
		return undefined, err
	}
	if x.op == '+' {
		if left.kind == engine.TypeString || right.kind == engine.TypeString {
			return value{kind: engine.TypeString, s: stringify(left) + stringify(right)}, nil
		}
		if left.kind == engine.TypeNumber && right.kind == engine.TypeNumber {
			return value{kind: engine.TypeNumber, n: left.n + right.n}, nil
		}
		return undefined, fmt.Errorf("TypeError: cannot add %s and %s", left.kind, right.kind)
	}
	if left.kind != engine.TypeNumber || right.kind != engine.TypeNumber {
		return undefined, fmt.Errorf("TypeError: cannot apply %q to %s and %s", string(x.op), left.kind, right.kind)
	}
	switch x.op {
	case '-':
		return value{kind: engine.TypeNumber, n: left.n - right.n}, nil
	case '*':
		return value{kind: engine.TypeNumber, n: left.n * right.n}, nil
	case '/':
		return value{kind: engine.TypeNumber, n: left.n / right.n}, nil
	default:
		return undefined, fmt.Errorf("SyntaxError: unknown operator %q", string(x.op))
	}
}

func (e *Engine) evalCall(x call, file string) (value, error) {
	var this value = undefined
	var callee value
	var err error

	switch c := x.callee.(type) {
	case property:
		this, err = e.eval(c.base, file)
		if err != nil {
			return undefined, err
		}
		callee, err = e.member(this, c.name)
	case indexExpr:
		this, err = e.eval(c.base, file)
		if err != nil {
			return undefined, err
		}
		var key value
		key, err = e.eval(c.key, file)
		if err == nil {
			callee, err = e.member(this, stringify(key))
		}
	default:
		callee, err = e.eval(x.callee, file)
	}
	if err != nil {
		return undefined, err
	}

	args := make([]value, len(x.args))
	for i, a := range x.args {
		args[i], err = e.eval(a, file)
		if err != nil {
			return undefined, err
		}
	}
	return e.call(callee, this, args)
}

// Parsing.

type parser struct {
	src string
	pos int
}

func parse(src string) (expr, error) {
	p := &parser{src: src}
	x, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	// Tolerate a trailing semicolon.
	if p.peek() == ';' {
		p.pos++
		p.skipSpace()
	}
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("SyntaxError: unexpected %q", p.src[p.pos:])
	}
	return x, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return fmt.Errorf("SyntaxError: expected %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) parseStatement() (expr, error) {
	p.skipSpace()
	if isIdentStart(p.peek()) {
		save := p.pos
		name, err := p.parseIdent()
		if err == nil {
			p.skipSpace()
			if p.peek() == '=' && (p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=') {
				p.pos++
				val, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				return assign{name: name, val: val}, nil
			}
		}
		p.pos = save
	}
	return p.parseExpr()
}

func (p *parser) parseExpr() (expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		c := p.peek()
		if c != '+' && c != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: c, left: left, right: right}
	}
}

func (p *parser) parseTerm() (expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		c := p.peek()
		if c != '*' && c != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		left = binary{op: c, left: left, right: right}
	}
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '.':
			p.pos++
			name, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			x = property{base: x, name: name}
		case '[':
			p.pos++
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(']'); err != nil {
				return nil, err
			}
			x = indexExpr{base: x, key: key}
		case '(':
			p.pos++
			args, err := p.parseArgs(')')
			if err != nil {
				return nil, err
			}
			x = call{callee: x, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs(closer byte) ([]expr, error) {
	var args []expr
	p.skipSpace()
	if p.peek() == closer {
		p.pos++
		return args, nil
	}
	for {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closer:
			p.pos++
			return args, nil
		default:
			return nil, fmt.Errorf("SyntaxError: expected %q or %q", ",", string(closer))
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == 0:
		return nil, fmt.Errorf("SyntaxError: unexpected end of input")
	case c == '(':
		p.pos++
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return x, nil
	case c == '{':
		return p.parseObject()
	case c == '[':
		p.pos++
		elems, err := p.parseArgs(']')
		if err != nil {
			return nil, err
		}
		return arrayLit{elems: elems}, nil
	case c == '\'' || c == '"':
		return p.parseString(c)
	case c == '-':
		p.pos++
		x, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binary{op: '-', left: numberLit(0), right: x}, nil
	case c >= '0' && c <= '9':
		return p.parseNumber()
	case isIdentStart(c):
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return boolLit(true), nil
		case "false":
			return boolLit(false), nil
		case "null":
			return nullLit{}, nil
		case "undefined":
			return undefinedLit{}, nil
		}
		return ident(name), nil
	default:
		return nil, fmt.Errorf("SyntaxError: unexpected %q", string(c))
	}
}

func (p *parser) parseObject() (expr, error) {
	p.pos++ // '{'
	var lit objectLit
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return lit, nil
	}
	for {
		p.skipSpace()
		var key string
		if c := p.peek(); c == '\'' || c == '"' {
			s, err := p.parseString(c)
			if err != nil {
				return nil, err
			}
			key = string(s.(stringLit))
		} else {
			var err error
			key, err = p.parseIdent()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.keys = append(lit.keys, key)
		lit.vals = append(lit.vals, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return lit, nil
		default:
			return nil, fmt.Errorf("SyntaxError: expected %q or %q in object literal", ",", "}")
		}
	}
}

func (p *parser) parseString(quote byte) (expr, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case quote:
			return stringLit(sb.String()), nil
		case '\\':
			if p.pos >= len(p.src) {
				return nil, fmt.Errorf("SyntaxError: unterminated string")
			}
			esc := p.src[p.pos]
			p.pos++
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(esc)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return nil, fmt.Errorf("SyntaxError: unterminated string")
}

func (p *parser) parseNumber() (expr, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("SyntaxError: invalid number %q", p.src[start:p.pos])
	}
	return numberLit(n), nil
}

func (p *parser) parseIdent() (string, error) {
	p.skipSpace()
	start := p.pos
	if p.pos >= len(p.src) || !isIdentStart(p.src[p.pos]) {
		return "", fmt.Errorf("SyntaxError: expected identifier")
	}
	p.pos++
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos], nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
