package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// RegisterBuiltins installs the compile-time tool set.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Tool{
		CalculateTool(),
		DateTimeTool(),
		EchoTool(),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// CalculateTool evaluates arithmetic expressions.
func CalculateTool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "calculate",
			Description: "Evaluate an arithmetic expression (+, -, *, /, parentheses)",
			Parameters: []Parameter{
				{Name: "expression", Type: "string", Description: "The expression to evaluate, e.g. 7*6", Required: true},
			},
			Domain:   "math",
			Concepts: []string{"arithmetic", "math", "numbers"},
			Synonyms: []string{"compute", "evaluate", "calc"},
			Characteristics: Characteristics{
				SafeForShadow: true,
				Idempotent:    true,
				SideEffects:   "none",
			},
		},
		Execute: func(_ context.Context, params map[string]any) (any, error) {
			expr, _ := params["expression"].(string)
			if strings.TrimSpace(expr) == "" {
				return nil, fmt.Errorf("%w: expression", ErrMissingRequiredArg)
			}
			value, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}
			return formatNumber(value), nil
		},
		TestCases: []TestCase{
			{Params: map[string]any{"expression": "7*6"}, Expected: "42"},
			{Params: map[string]any{"expression": "(2+3)*4"}, Expected: "20"},
			{Params: map[string]any{"expression": "10/4"}, Expected: "2.5"},
		},
	}
}

// DateTimeTool reports the current date and time.
func DateTimeTool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "datetime",
			Description: "Return the current date and time, optionally in a given format",
			Parameters: []Parameter{
				{Name: "format", Type: "string", Description: "Go reference layout, defaults to RFC3339", Required: false, Default: time.RFC3339},
			},
			Domain:   "time",
			Concepts: []string{"date", "time", "clock", "now"},
			Synonyms: []string{"today", "current time"},
			Characteristics: Characteristics{
				SafeForShadow: true,
				SideEffects:   "read_only",
			},
		},
		Execute: func(_ context.Context, params map[string]any) (any, error) {
			layout, _ := params["format"].(string)
			if layout == "" {
				layout = time.RFC3339
			}
			return time.Now().Format(layout), nil
		},
	}
}

// EchoTool returns its input. Useful for pipeline smoke tests.
func EchoTool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "echo",
			Description: "Return the provided text unchanged",
			Parameters: []Parameter{
				{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			},
			Domain: "utility",
			Characteristics: Characteristics{
				SafeForShadow: true,
				Idempotent:    true,
				SideEffects:   "none",
			},
		},
		Execute: func(_ context.Context, params map[string]any) (any, error) {
			text, _ := params["text"].(string)
			return text, nil
		},
		TestCases: []TestCase{
			{Params: map[string]any{"text": "hello"}, Expected: "hello"},
		},
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// evalExpression is a small recursive-descent evaluator over
// + - * / and parentheses.
func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case c == '-':
		p.pos++
		value, err := p.parseFactor()
		return -value, err
	case c == '.' || ('0' <= c && c <= '9'):
		start := p.pos
		for p.pos < len(p.input) {
			ch := p.input[p.pos]
			if ch == '.' || ('0' <= ch && ch <= '9') {
				p.pos++
				continue
			}
			break
		}
		value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
		}
		return value, nil
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}
