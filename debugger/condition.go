package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kunitoki/etch/vmvalue"
)

// ConditionError reports a breakpoint condition that failed to parse or
// evaluate. A failing condition is treated as "don't stop" by the stepping
// logic, which discards the error without reporting it to the DAP client.
type ConditionError struct {
	Expr string
	Err  error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("breakpoint condition %q: %v", e.Expr, e.Err)
}

// tokKind identifies one lexical token in a condition expression.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

// lexCondition splits a condition expression into tokens. The grammar is
// intentionally small: identifiers, int/float/string literals, the
// comparison/equality/logical operators, and parentheses — enough to
// express "x > 0 && y == \"done\"" without needing a general expression
// language.
func lexCondition(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		case isDigit(c):
			j := i
			isFloat := false
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				if src[j] == '.' {
					isFloat = true
				}
				j++
			}
			if isFloat {
				toks = append(toks, token{tokFloat, src[i:j]})
			} else {
				toks = append(toks, token{tokInt, src[i:j]})
			}
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			op, n, err := lexOp(src[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokOp, op})
			i += n
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func lexOp(s string) (string, int, error) {
	two := map[string]bool{"==": true, "!=": true, ">=": true, "<=": true, "&&": true, "||": true}
	if len(s) >= 2 && two[s[:2]] {
		return s[:2], 2, nil
	}
	one := "<>!+-*/%"
	if strings.IndexByte(one, s[0]) >= 0 {
		return s[:1], 1, nil
	}
	return "", 0, fmt.Errorf("unexpected character %q", s[0])
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// precedence table, lowest to highest.
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

// conditionParser is a small Pratt parser producing a conditionNode tree.
type conditionParser struct {
	toks []token
	pos  int
}

type nodeKind int

const (
	nodeIdent nodeKind = iota
	nodeInt
	nodeFloat
	nodeString
	nodeBinary
	nodeUnaryNot
)

type conditionNode struct {
	kind  nodeKind
	ident string
	ival  int64
	fval  float64
	sval  string
	op    string
	left  *conditionNode
	right *conditionNode
}

func parseCondition(src string) (*conditionNode, error) {
	toks, err := lexCondition(src)
	if err != nil {
		return nil, err
	}
	p := &conditionParser{toks: toks}
	node, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.peek().text)
	}
	return node, nil
}

func (p *conditionParser) peek() token { return p.toks[p.pos] }
func (p *conditionParser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *conditionParser) parseExpr(minPrec int) (*conditionNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			break
		}
		prec, ok := precedence[t.text]
		if !ok || prec < minPrec {
			break
		}
		op := p.next().text
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &conditionNode{kind: nodeBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *conditionParser) parseUnary() (*conditionNode, error) {
	t := p.peek()
	if t.kind == tokOp && t.text == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &conditionNode{kind: nodeUnaryNot, left: inner}, nil
	}
	return p.parsePrimary()
}

func (p *conditionParser) parsePrimary() (*conditionNode, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return &conditionNode{kind: nodeIdent, ident: t.text}, nil
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, err
		}
		return &conditionNode{kind: nodeInt, ival: v}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, err
		}
		return &conditionNode{kind: nodeFloat, fval: v}, nil
	case tokString:
		return &conditionNode{kind: nodeString, sval: t.text}, nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// evalCondition parses and evaluates cond against the locals visible at the
// given call depth, returning whether the breakpoint should fire.
func (d *Debugger) evalCondition(cond string, depth int) (bool, error) {
	node, err := parseCondition(cond)
	if err != nil {
		return false, &ConditionError{Expr: cond, Err: err}
	}
	v, err := d.evalNode(node, depth)
	if err != nil {
		return false, &ConditionError{Expr: cond, Err: err}
	}
	return v.Kind == vmvalue.KindBool && v.Bool, nil
}

func (d *Debugger) evalNode(n *conditionNode, depth int) (vmvalue.Value, error) {
	switch n.kind {
	case nodeInt:
		return vmvalue.NewInt(n.ival), nil
	case nodeFloat:
		return vmvalue.NewFloat(n.fval), nil
	case nodeString:
		return vmvalue.NewString(n.sval), nil
	case nodeIdent:
		return d.lookupLocal(n.ident, depth)
	case nodeUnaryNot:
		v, err := d.evalNode(n.left, depth)
		if err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewBool(!v.Bool), nil
	case nodeBinary:
		return d.evalBinary(n, depth)
	default:
		return vmvalue.Nil, fmt.Errorf("unhandled node kind %d", n.kind)
	}
}

func (d *Debugger) evalBinary(n *conditionNode, depth int) (vmvalue.Value, error) {
	if n.op == "&&" || n.op == "||" {
		l, err := d.evalNode(n.left, depth)
		if err != nil {
			return vmvalue.Nil, err
		}
		if n.op == "&&" && !l.Bool {
			return vmvalue.NewBool(false), nil
		}
		if n.op == "||" && l.Bool {
			return vmvalue.NewBool(true), nil
		}
		return d.evalNode(n.right, depth)
	}

	l, err := d.evalNode(n.left, depth)
	if err != nil {
		return vmvalue.Nil, err
	}
	r, err := d.evalNode(n.right, depth)
	if err != nil {
		return vmvalue.Nil, err
	}

	switch n.op {
	case "==":
		return vmvalue.NewBool(l.Equal(r)), nil
	case "!=":
		return vmvalue.NewBool(!l.Equal(r)), nil
	case "<", "<=", ">", ">=":
		less, ok := l.Less(r)
		if !ok {
			return vmvalue.Nil, fmt.Errorf("values of kind %s are not ordered", l.Kind)
		}
		eq := l.Equal(r)
		switch n.op {
		case "<":
			return vmvalue.NewBool(less), nil
		case "<=":
			return vmvalue.NewBool(less || eq), nil
		case ">":
			return vmvalue.NewBool(!less && !eq), nil
		default:
			return vmvalue.NewBool(!less), nil
		}
	case "+", "-", "*", "/", "%":
		return evalArith(n.op, l, r)
	default:
		return vmvalue.Nil, fmt.Errorf("unknown operator %q", n.op)
	}
}

func evalArith(op string, l, r vmvalue.Value) (vmvalue.Value, error) {
	if l.Kind == vmvalue.KindFloat || r.Kind == vmvalue.KindFloat {
		lf, rf := toFloat(l), toFloat(r)
		switch op {
		case "+":
			return vmvalue.NewFloat(lf + rf), nil
		case "-":
			return vmvalue.NewFloat(lf - rf), nil
		case "*":
			return vmvalue.NewFloat(lf * rf), nil
		case "/":
			if rf == 0 {
				return vmvalue.Nil, fmt.Errorf("division by zero")
			}
			return vmvalue.NewFloat(lf / rf), nil
		}
	}
	li, ri := l.Int, r.Int
	switch op {
	case "+":
		return vmvalue.NewInt(li + ri), nil
	case "-":
		return vmvalue.NewInt(li - ri), nil
	case "*":
		return vmvalue.NewInt(li * ri), nil
	case "/":
		if ri == 0 {
			return vmvalue.Nil, fmt.Errorf("division by zero")
		}
		return vmvalue.NewInt(li / ri), nil
	case "%":
		if ri == 0 {
			return vmvalue.Nil, fmt.Errorf("modulo by zero")
		}
		return vmvalue.NewInt(li % ri), nil
	}
	return vmvalue.Nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func toFloat(v vmvalue.Value) float64 {
	if v.Kind == vmvalue.KindFloat {
		return v.Float
	}
	return float64(v.Int)
}
