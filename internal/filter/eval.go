package filter

import (
	"strings"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Row resolves field references during evaluation.
type Row interface {
	// Lookup returns the field's value; ok is false when the field is unset.
	Lookup(field string) (v Value, ok bool)
}

// RowFunc adapts a function to Row.
type RowFunc func(field string) (Value, bool)

// Lookup implements Row.
func (f RowFunc) Lookup(field string) (Value, bool) { return f(field) }

// Eval evaluates n against row. The root must produce a boolean.
func (n *Node) Eval(row Row) (bool, error) {
	v, err := n.eval(row)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

func (n *Node) eval(row Row) (Value, error) {
	if n.IsValue() {
		if n.val.IsField() {
			if v, ok := row.Lookup(n.val.s); ok {
				return v, nil
			}
			return Null, nil
		}
		return n.val, nil
	}
	switch n.op {
	case Not:
		b, err := n.right.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		return BoolValue(!b.b), nil
	case Or, And:
		l, err := n.left.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		if l.b == (n.op == Or) {
			return BoolValue(l.b), nil
		}
		r, err := n.right.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		return BoolValue(r.b), nil
	case Equals:
		l, err := n.left.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		r, err := n.right.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		eq, err := equal(l, r)
		return BoolValue(eq), err
	case Contains:
		l, err := n.left.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		r, err := n.right.evalOperand(n.op, row)
		if err != nil {
			return Null, err
		}
		if l.typ == TypeNull || r.typ == TypeNull {
			return BoolValue(false), nil
		}
		return BoolValue(strings.Contains(strings.ToLower(l.s), strings.ToLower(r.s))), nil
	default:
		return Null, apierrors.BadRequest("unknown operator %s", n.op)
	}
}

// evalOperand evaluates n as an operand of op and checks op's scope. A null
// operand of a boolean operator counts as false.
func (n *Node) evalOperand(op Operator, row Row) (Value, error) {
	v, err := n.eval(row)
	if err != nil {
		return Null, err
	}
	scope := op.Scope()
	if !scope.accepts(v.typ) {
		return Null, apierrors.TypeMismatch(scopeName(scope), v.typ.String())
	}
	if v.typ == TypeNull && scope == ScopeBool {
		return BoolValue(false), nil
	}
	return v, nil
}

func equal(a, b Value) (bool, error) {
	if a.typ == TypeNull || b.typ == TypeNull {
		return a.typ == b.typ, nil
	}
	if a.typ != b.typ {
		return false, apierrors.TypeMismatch(a.typ.String(), b.typ.String())
	}
	switch a.typ {
	case TypeBool:
		return a.b == b.b, nil
	case TypeString:
		return a.s == b.s, nil
	case TypeNumber:
		return a.n == b.n, nil
	case TypeDate:
		return a.t.Equal(b.t), nil
	default:
		return false, nil
	}
}

func scopeName(s Scope) string {
	switch s {
	case ScopeBool:
		return "bool"
	case ScopeString:
		return "string"
	case ScopeNumber:
		return "number"
	case ScopeDate:
		return "date"
	default:
		return "any"
	}
}
