package filter

import (
	"encoding/json"
	"time"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// jsonNode is the transport form of a Node. Exactly one of Op, Field or a
// constant is set.
type jsonNode struct {
	Op     string    `json:"op,omitempty"`
	Left   *jsonNode `json:"left,omitempty"`
	Right  *jsonNode `json:"right,omitempty"`
	Field  *string   `json:"field,omitempty"`
	Bool   *bool     `json:"bool,omitempty"`
	String *string   `json:"string,omitempty"`
	Number *float64  `json:"number,omitempty"`
	Date   *string   `json:"date,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	var j jsonNode
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	out, err := j.toNode()
	if err != nil {
		return err
	}
	*n = *out
	return nil
}

func (n *Node) toJSON() *jsonNode {
	if n.IsOperator() {
		j := &jsonNode{Op: n.op.String(), Right: n.right.toJSON()}
		if n.left != nil {
			j.Left = n.left.toJSON()
		}
		return j
	}
	v := n.val
	switch v.typ {
	case TypeField:
		return &jsonNode{Field: &v.s}
	case TypeBool:
		return &jsonNode{Bool: &v.b}
	case TypeString:
		return &jsonNode{String: &v.s}
	case TypeNumber:
		return &jsonNode{Number: &v.n}
	case TypeDate:
		s := v.t.Format(time.RFC3339Nano)
		return &jsonNode{Date: &s}
	default:
		return &jsonNode{}
	}
}

func (j *jsonNode) toNode() (*Node, error) {
	if j == nil {
		return nil, apierrors.BadRequest("missing filter operand")
	}
	if j.Op != "" {
		op, ok := parseOperator(j.Op)
		if !ok {
			return nil, apierrors.BadRequest("unknown filter operator %q", j.Op)
		}
		right, err := j.Right.toNode()
		if err != nil {
			return nil, err
		}
		if op.Unary() {
			return NewNot(right), nil
		}
		left, err := j.Left.toNode()
		if err != nil {
			return nil, err
		}
		return NewBinary(op, left, right)
	}
	switch {
	case j.Field != nil:
		return Field(*j.Field), nil
	case j.Bool != nil:
		return Bool(*j.Bool), nil
	case j.String != nil:
		return String(*j.String), nil
	case j.Number != nil:
		return Number(*j.Number), nil
	case j.Date != nil:
		t, err := time.Parse(time.RFC3339Nano, *j.Date)
		if err != nil {
			return nil, apierrors.BadRequest("invalid filter date %q", *j.Date)
		}
		return Date(t), nil
	default:
		return &Node{}, nil
	}
}
