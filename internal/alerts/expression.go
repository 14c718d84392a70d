package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Predicate is a parsed rule condition that evaluates to a trigger verdict.
type Predicate interface {
	// Evaluate computes the verdict given bound parameter values.
	Evaluate(b Bindings) (bool, error)

	// Names returns all parameter names referenced in the predicate.
	Names() []string

	fmt.Stringer
}

// Operand is a numeric sub-expression of a comparison.
type Operand interface {
	// Value computes the operand given bound parameter values.
	Value(b Bindings) (float64, error)

	// Names returns all parameter names referenced in the operand.
	Names() []string

	fmt.Stringer
}

// ParamRef is a reference to a bound parameter by name.
type ParamRef struct {
	Name string
}

// Value returns the bound value of the referenced parameter.
func (r *ParamRef) Value(b Bindings) (float64, error) {
	v, ok := b.Get(r.Name)
	if !ok {
		return 0, fmt.Errorf("parameter %q not bound", r.Name)
	}
	return v, nil
}

func (r *ParamRef) Names() []string { return []string{r.Name} }
func (r *ParamRef) String() string  { return r.Name }

// Constant is a numeric literal.
type Constant struct {
	Number float64
}

// Value returns the constant value.
func (c *Constant) Value(_ Bindings) (float64, error) {
	return c.Number, nil
}

func (c *Constant) Names() []string { return nil }
func (c *Constant) String() string  { return strconv.FormatFloat(c.Number, 'f', -1, 64) }

// Negate is unary minus applied to an operand.
type Negate struct {
	Inner Operand
}

// Value returns the negated inner value.
func (n *Negate) Value(b Bindings) (float64, error) {
	v, err := n.Inner.Value(b)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

func (n *Negate) Names() []string { return n.Inner.Names() }
func (n *Negate) String() string  { return "-" + n.Inner.String() }

// Arithmetic is a binary arithmetic operation (+, -, *, /).
type Arithmetic struct {
	Left  Operand
	Op    byte
	Right Operand
}

// Value computes the arithmetic operation.
func (a *Arithmetic) Value(b Bindings) (float64, error) {
	left, err := a.Left.Value(b)
	if err != nil {
		return 0, err
	}

	right, err := a.Right.Value(b)
	if err != nil {
		return 0, err
	}

	switch a.Op {
	case '+':
		return left + right, nil
	case '-':
		return left - right, nil
	case '*':
		return left * right, nil
	case '/':
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	default:
		return 0, fmt.Errorf("unknown operator: %c", a.Op)
	}
}

func (a *Arithmetic) Names() []string {
	return mergeNames(a.Left.Names(), a.Right.Names())
}

func (a *Arithmetic) String() string {
	return fmt.Sprintf("(%s %c %s)", a.Left, a.Op, a.Right)
}

// Comparison compares two operands.
type Comparison struct {
	Left  Operand
	Op    Operator
	Right Operand
}

// Evaluate computes the comparison.
func (c *Comparison) Evaluate(b Bindings) (bool, error) {
	left, err := c.Left.Value(b)
	if err != nil {
		return false, err
	}
	right, err := c.Right.Value(b)
	if err != nil {
		return false, err
	}
	return c.Op.Compare(left, right), nil
}

func (c *Comparison) Names() []string {
	return mergeNames(c.Left.Names(), c.Right.Names())
}

func (c *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// Logical joins two predicates with && or ||. Evaluation short-circuits.
type Logical struct {
	Left  Predicate
	Op    string
	Right Predicate
}

// Evaluate computes the logical combination.
func (l *Logical) Evaluate(b Bindings) (bool, error) {
	left, err := l.Left.Evaluate(b)
	if err != nil {
		return false, err
	}

	switch l.Op {
	case "&&":
		if !left {
			return false, nil
		}
	case "||":
		if left {
			return true, nil
		}
	default:
		return false, fmt.Errorf("unknown logical operator: %s", l.Op)
	}

	return l.Right.Evaluate(b)
}

func (l *Logical) Names() []string {
	return mergeNames(l.Left.Names(), l.Right.Names())
}

func (l *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", l.Left, l.Op, l.Right)
}

// Not negates a predicate.
type Not struct {
	Inner Predicate
}

// Evaluate returns the negated verdict.
func (n *Not) Evaluate(b Bindings) (bool, error) {
	v, err := n.Inner.Evaluate(b)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n *Not) Names() []string { return n.Inner.Names() }
func (n *Not) String() string  { return "!" + n.Inner.String() }

// Literal is the constant true or false predicate.
type Literal struct {
	Result bool
}

// Evaluate returns the literal verdict.
func (l *Literal) Evaluate(_ Bindings) (bool, error) {
	return l.Result, nil
}

func (l *Literal) Names() []string { return nil }
func (l *Literal) String() string  { return strconv.FormatBool(l.Result) }

// failClosed stands in for a rule whose condition could not be parsed.
// It never triggers.
type failClosed struct {
	expr string
}

func (f *failClosed) Evaluate(_ Bindings) (bool, error) { return false, nil }
func (f *failClosed) Names() []string                    { return nil }
func (f *failClosed) String() string                     { return "<invalid: " + f.expr + ">" }

// Parser parses rule condition expressions.
type Parser struct {
	input string
	pos   int
}

// NewParser creates a new expression parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a condition expression string.
// Supports:
//   - Comparisons: "Pressure > 3", "input1 >= 10"
//   - Logical operators: "a > 1 && b < 2", "a > 1 || b < 2"
//   - Negation and grouping: "!(a > 1)", "(a > 1 || b > 1) && c < 5"
//   - Literals: "true", "false"
//   - Arithmetic operands: "(a + b) / 2 > 10"
func (p *Parser) Parse(expr string) (Predicate, error) {
	p.input = strings.TrimSpace(expr)
	p.pos = 0

	if p.input == "" {
		return nil, fmt.Errorf("empty expression")
	}

	result, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	// Ensure we consumed the entire input
	p.skipWhitespace()
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("unexpected character at position %d: %c", p.pos, p.input[p.pos])
	}

	return result, nil
}

// parseOr parses || (lowest precedence).
func (p *Parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.consume("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Left: left, Op: "||", Right: right}
	}

	return left, nil
}

// parseAnd parses &&.
func (p *Parser) parseAnd() (Predicate, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.consume("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Left: left, Op: "&&", Right: right}
	}

	return left, nil
}

// parseUnary parses ! and boolean primaries.
func (p *Parser) parseUnary() (Predicate, error) {
	p.skipWhitespace()

	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	if p.input[p.pos] == '!' && !p.lookingAt("!=") {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}

	// A parenthesis opens either a grouped predicate or an arithmetic
	// operand such as "(a + b) > 3". Try the predicate first and fall back.
	if p.input[p.pos] == '(' {
		start := p.pos
		if pred, ok := p.tryGroup(); ok {
			return pred, nil
		}
		p.pos = start
	}

	if word, ok := p.peekWord(); ok && (word == "true" || word == "false") {
		p.pos += len(word)
		return &Literal{Result: word == "true"}, nil
	}

	return p.parseComparison()
}

// tryGroup parses "( predicate )" when it is not followed by an operator
// that would make the group an arithmetic operand.
func (p *Parser) tryGroup() (Predicate, bool) {
	p.pos++ // consume '('
	inner, err := p.parseOr()
	if err != nil {
		return nil, false
	}
	p.skipWhitespace()
	if p.pos >= len(p.input) || p.input[p.pos] != ')' {
		return nil, false
	}
	p.pos++ // consume ')'

	p.skipWhitespace()
	if p.pos < len(p.input) {
		switch p.input[p.pos] {
		case '+', '-', '*', '/', '<', '>', '=':
			return nil, false
		case '!':
			if p.lookingAt("!=") {
				return nil, false
			}
		}
	}
	return inner, true
}

// parseComparison parses "operand op operand".
func (p *Parser) parseComparison() (Predicate, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	op, ok := p.parseOperator()
	if !ok {
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("expected comparison operator after %s", left)
		}
		return nil, fmt.Errorf("expected comparison operator at position %d", p.pos)
	}

	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	return &Comparison{Left: left, Op: op, Right: right}, nil
}

// parseOperator consumes a comparison operator, longest match first.
func (p *Parser) parseOperator() (Operator, bool) {
	for _, op := range []Operator{OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual, OpGreaterThan, OpLessThan} {
		if p.consume(string(op)) {
			return op, true
		}
	}
	return "", false
}

// parseSum parses addition and subtraction.
func (p *Parser) parseSum() (Operand, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			break
		}

		op := p.input[p.pos]
		if op != '+' && op != '-' {
			break
		}
		p.pos++

		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}

		left = &Arithmetic{Left: left, Op: op, Right: right}
	}

	return left, nil
}

// parseTerm parses multiplication and division (higher precedence).
func (p *Parser) parseTerm() (Operand, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			break
		}

		op := p.input[p.pos]
		if op != '*' && op != '/' {
			break
		}
		p.pos++

		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}

		left = &Arithmetic{Left: left, Op: op, Right: right}
	}

	return left, nil
}

// parseFactor parses numbers, identifiers, unary minus and parenthesized operands.
func (p *Parser) parseFactor() (Operand, error) {
	p.skipWhitespace()

	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch c := p.input[p.pos]; {
	case c == '(':
		p.pos++ // consume '('
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++ // consume ')'
		return inner, nil
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		if k, ok := inner.(*Constant); ok {
			return &Constant{Number: -k.Number}, nil
		}
		return &Negate{Inner: inner}, nil
	case p.isNumberStart():
		return p.parseNumber()
	case p.isIdentifierStart():
		return p.parseIdentifier()
	default:
		return nil, fmt.Errorf("unexpected character: %c", c)
	}
}

// parseNumber parses a numeric constant with optional fraction and exponent.
func (p *Parser) parseNumber() (Operand, error) {
	start := p.pos

	p.skipDigits()
	if p.pos < len(p.input) && p.input[p.pos] == '.' {
		p.pos++
		p.skipDigits()
	}
	if p.pos < len(p.input) && (p.input[p.pos] == 'e' || p.input[p.pos] == 'E') {
		p.pos++
		if p.pos < len(p.input) && (p.input[p.pos] == '+' || p.input[p.pos] == '-') {
			p.pos++
		}
		p.skipDigits()
	}

	numStr := p.input[start:p.pos]
	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number: %s", numStr)
	}

	return &Constant{Number: value}, nil
}

// parseIdentifier parses a parameter name. The boolean literals are not
// valid operands.
func (p *Parser) parseIdentifier() (Operand, error) {
	start := p.pos
	for p.pos < len(p.input) && isIdentifierChar(p.input[p.pos]) {
		p.pos++
	}

	name := p.input[start:p.pos]
	switch name {
	case "":
		return nil, fmt.Errorf("expected identifier")
	case "true", "false", "null":
		return nil, fmt.Errorf("%s is not a numeric operand", name)
	}

	return &ParamRef{Name: name}, nil
}

// peekWord returns the identifier at the current position without consuming it.
func (p *Parser) peekWord() (string, bool) {
	if !p.isIdentifierStart() {
		return "", false
	}
	end := p.pos
	for end < len(p.input) && isIdentifierChar(p.input[end]) {
		end++
	}
	return p.input[p.pos:end], true
}

// consume skips whitespace and advances past tok if it is next.
func (p *Parser) consume(tok string) bool {
	p.skipWhitespace()
	if p.lookingAt(tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *Parser) lookingAt(tok string) bool {
	return strings.HasPrefix(p.input[p.pos:], tok)
}

func (p *Parser) skipDigits() {
	for p.pos < len(p.input) && unicode.IsDigit(rune(p.input[p.pos])) {
		p.pos++
	}
}

// skipWhitespace advances past whitespace characters.
func (p *Parser) skipWhitespace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// isNumberStart returns true if the current character could start a number.
func (p *Parser) isNumberStart() bool {
	if p.pos >= len(p.input) {
		return false
	}
	c := p.input[p.pos]
	return unicode.IsDigit(rune(c)) || c == '.'
}

// isIdentifierStart returns true if the current character could start an identifier.
func (p *Parser) isIdentifierStart() bool {
	if p.pos >= len(p.input) {
		return false
	}
	c := p.input[p.pos]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentifierChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// mergeNames concatenates name lists, dropping duplicates.
func mergeNames(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// ParseExpression is a convenience function to parse an expression string.
func ParseExpression(expr string) (Predicate, error) {
	parser := NewParser()
	return parser.Parse(expr)
}
