// Package alerts compiles rule conditions, evaluates them against device
// parameter values and decides the lifecycle of the resulting alarms.
package alerts

import "fmt"

// Operator defines comparison operators usable in rule conditions.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

// String returns the string representation of the operator.
func (o Operator) String() string {
	return string(o)
}

// Compare evaluates left <op> right.
func (o Operator) Compare(left, right float64) bool {
	switch o {
	case OpGreaterThan:
		return left > right
	case OpLessThan:
		return left < right
	case OpGreaterOrEqual:
		return left >= right
	case OpLessOrEqual:
		return left <= right
	case OpEqual:
		return left == right
	case OpNotEqual:
		return left != right
	default:
		return false
	}
}

// IsValid returns true if the operator is a recognized operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// ParseOperator converts a string to an Operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.IsValid() {
		return "", fmt.Errorf("unknown comparison operator %q", s)
	}
	return op, nil
}
