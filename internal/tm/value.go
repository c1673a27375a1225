package tm

import (
	"encoding/json"
	"fmt"
	"strconv"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
)

// ValueKind tags a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a typed record field value. The zero value is null.
type Value struct {
	kind ValueKind
	s    string
	n    float64
	b    bool
}

// Null is the null value.
var Null Value

// StringValue returns a string value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// NumberValue returns a number value.
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the value's tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string, failing with TypeMismatch for other kinds.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", apierrors.TypeMismatch(KindString.String(), v.kind.String())
	}
	return v.s, nil
}

// AsNumber returns the number, failing with TypeMismatch for other kinds.
func (v Value) AsNumber() (float64, error) {
	if v.kind != KindNumber {
		return 0, apierrors.TypeMismatch(KindNumber.String(), v.kind.String())
	}
	return v.n, nil
}

// AsBool returns the boolean, failing with TypeMismatch for other kinds.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, apierrors.TypeMismatch(KindBool.String(), v.kind.String())
	}
	return v.b, nil
}

// String renders the value for the string-mapping boundary; null is empty.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	return v == o
}

// filterValue converts v for filter evaluation.
func (v Value) filterValue() filter.Value {
	switch v.kind {
	case KindString:
		return filter.StringValue(v.s)
	case KindNumber:
		return filter.NumberValue(v.n)
	case KindBool:
		return filter.BoolValue(v.b)
	default:
		return filter.Null
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null
	case string:
		*v = StringValue(x)
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("unsupported value %s", data)
	}
	return nil
}
