// Package filter implements boolean predicates over record fields.
//
// A Node is either an operator applied to one (NOT) or two operands, or a
// value: a field reference or a typed constant. Nodes are immutable.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Operator is one of the supported operators.
type Operator uint8

const (
	// Or is the boolean disjunction.
	Or Operator = iota + 1
	// And is the boolean conjunction.
	And
	// Not is the boolean negation, the only unary operator.
	Not
	// Equals compares two values of the same type.
	Equals
	// Contains tests that a string contains another, ignoring case.
	Contains
)

var opNames = [...]string{Or: "or", And: "and", Not: "not", Equals: "equals", Contains: "contains"}

func (o Operator) String() string {
	if o >= Or && o <= Contains {
		return opNames[o]
	}
	return fmt.Sprintf("Operator(%d)", uint8(o))
}

// Unary reports whether the operator takes a single operand.
func (o Operator) Unary() bool {
	return o == Not
}

// Scope returns the value types the operator accepts as operands.
func (o Operator) Scope() Scope {
	switch o {
	case Or, And, Not:
		return ScopeBool
	case Contains:
		return ScopeString
	default:
		return ScopeAll
	}
}

func parseOperator(s string) (Operator, bool) {
	for i, n := range opNames {
		if n != "" && n == s {
			return Operator(i), true
		}
	}
	return 0, false
}

// Scope is a set of value types.
type Scope uint8

const (
	// ScopeBool accepts booleans.
	ScopeBool Scope = 1 << iota
	// ScopeString accepts strings.
	ScopeString
	// ScopeNumber accepts numbers.
	ScopeNumber
	// ScopeDate accepts dates.
	ScopeDate

	// ScopeAll accepts every type.
	ScopeAll = ScopeBool | ScopeString | ScopeNumber | ScopeDate
)

// accepts reports whether a resolved value of type t may be an operand.
// Null is accepted everywhere; operators decide what it means.
func (s Scope) accepts(t Type) bool {
	switch t {
	case TypeNull:
		return true
	case TypeBool:
		return s&ScopeBool != 0
	case TypeString:
		return s&ScopeString != 0
	case TypeNumber:
		return s&ScopeNumber != 0
	case TypeDate:
		return s&ScopeDate != 0
	default:
		return false
	}
}

// Node is an expression tree node.
type Node struct {
	op    Operator // zero for value nodes
	left  *Node    // nil for unary operators
	right *Node
	val   Value
}

// NewBinary returns a binary operator node.
func NewBinary(op Operator, left, right *Node) (*Node, error) {
	if op < Or || op > Contains || op.Unary() {
		return nil, apierrors.BadRequest("%s is not a binary operator", op)
	}
	if left == nil || right == nil {
		return nil, apierrors.BadRequest("%s requires two operands", op)
	}
	return &Node{op: op, left: left, right: right}, nil
}

func binary(op Operator, left, right *Node) *Node {
	n, err := NewBinary(op, left, right)
	if err != nil {
		panic(err)
	}
	return n
}

// NewNot returns the negation of n.
func NewNot(n *Node) *Node {
	if n == nil {
		panic("filter: NOT requires an operand")
	}
	return &Node{op: Not, right: n}
}

// NewOr returns (left or right).
func NewOr(left, right *Node) *Node { return binary(Or, left, right) }

// NewAnd returns (left and right).
func NewAnd(left, right *Node) *Node { return binary(And, left, right) }

// NewEquals returns (left equals right).
func NewEquals(left, right *Node) *Node { return binary(Equals, left, right) }

// NewContains returns (left contains right).
func NewContains(left, right *Node) *Node { return binary(Contains, left, right) }

// EqualsBool returns ([field] equals b).
func EqualsBool(field string, b bool) *Node {
	return NewEquals(Field(field), Bool(b))
}

// Field returns a node referencing a record field.
func Field(name string) *Node { return &Node{val: Value{typ: TypeField, s: name}} }

// Bool returns a boolean constant node.
func Bool(b bool) *Node { return &Node{val: BoolValue(b)} }

// String returns a string constant node.
func String(s string) *Node { return &Node{val: StringValue(s)} }

// Number returns a numeric constant node.
func Number(f float64) *Node { return &Node{val: NumberValue(f)} }

// Date returns a date constant node.
func Date(t time.Time) *Node { return &Node{val: DateValue(t)} }

// IsOperator reports whether n is an operator node.
func (n *Node) IsOperator() bool { return n.op != 0 }

// IsValue reports whether n is a value node.
func (n *Node) IsValue() bool { return n.op == 0 }

// IsUnary reports whether n is a unary operator node.
func (n *Node) IsUnary() bool { return n.op.Unary() }

// Operator returns the operator of an operator node, zero otherwise.
func (n *Node) Operator() Operator { return n.op }

// Left returns the left operand; nil for unary operators and values.
func (n *Node) Left() *Node { return n.left }

// Right returns the right operand (the only operand of NOT).
func (n *Node) Right() *Node { return n.right }

// Value returns the value of a value node.
func (n *Node) Value() Value { return n.val }

// String renders the canonical form: "(<left> <op> <right>)" for binary
// operators, "(<op> <right>)" for NOT, "[name]" for fields and the literal for
// constants.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	if n.IsValue() {
		b.WriteString(n.val.String())
		return
	}
	b.WriteByte('(')
	if !n.IsUnary() {
		n.left.write(b)
		b.WriteByte(' ')
	}
	b.WriteString(n.op.String())
	b.WriteByte(' ')
	n.right.write(b)
	b.WriteByte(')')
}

// Type is the type of a Value.
type Type uint8

const (
	// TypeNull is the absent value.
	TypeNull Type = iota
	// TypeField is a reference to a record field.
	TypeField
	// TypeBool is a boolean.
	TypeBool
	// TypeString is a string.
	TypeString
	// TypeNumber is a float64.
	TypeNumber
	// TypeDate is a point in time.
	TypeDate
)

var typeNames = [...]string{"null", "field", "bool", "string", "number", "date"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Value is a field reference or a typed constant.
type Value struct {
	typ Type
	s   string
	b   bool
	n   float64
	t   time.Time
}

// Null is the absent value.
var Null = Value{}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{typ: TypeBool, b: b} }

// StringValue returns a string value.
func StringValue(s string) Value { return Value{typ: TypeString, s: s} }

// NumberValue returns a numeric value.
func NumberValue(f float64) Value { return Value{typ: TypeNumber, n: f} }

// DateValue returns a date value.
func DateValue(t time.Time) Value { return Value{typ: TypeDate, t: t} }

// Type returns the value's type.
func (v Value) Type() Type { return v.typ }

// IsField reports whether v references a field.
func (v Value) IsField() bool { return v.typ == TypeField }

// FieldName returns the referenced field name, or "" for constants.
func (v Value) FieldName() string {
	if v.typ != TypeField {
		return ""
	}
	return v.s
}

// AsBool returns the boolean constant.
func (v Value) AsBool() (bool, error) {
	if v.typ != TypeBool {
		return false, apierrors.TypeMismatch(TypeBool.String(), v.typ.String())
	}
	return v.b, nil
}

// AsString returns the string constant.
func (v Value) AsString() (string, error) {
	if v.typ != TypeString {
		return "", apierrors.TypeMismatch(TypeString.String(), v.typ.String())
	}
	return v.s, nil
}

// AsNumber returns the numeric constant.
func (v Value) AsNumber() (float64, error) {
	if v.typ != TypeNumber {
		return 0, apierrors.TypeMismatch(TypeNumber.String(), v.typ.String())
	}
	return v.n, nil
}

// AsDate returns the date constant.
func (v Value) AsDate() (time.Time, error) {
	if v.typ != TypeDate {
		return time.Time{}, apierrors.TypeMismatch(TypeDate.String(), v.typ.String())
	}
	return v.t, nil
}

// String renders the value literal.
func (v Value) String() string {
	switch v.typ {
	case TypeField:
		return "[" + v.s + "]"
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	case TypeNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case TypeDate:
		return v.t.Format(time.RFC3339)
	default:
		return "null"
	}
}
