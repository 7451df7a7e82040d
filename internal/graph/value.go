package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueType is the kind of value an attribute type holds.
type ValueType string

// Value types known to the store.
const (
	Number  ValueType = "number"
	String  ValueType = "string"
	Boolean ValueType = "boolean"
)

// Valid reports whether t is one of the known value types.
func (t ValueType) Valid() bool {
	switch t {
	case Number, String, Boolean:
		return true
	}
	return false
}

// Value is one typed attribute value.
type Value struct {
	Type   ValueType
	Number float64
	Text   string
	Bool   bool
}

// NumberValue returns a number Value.
func NumberValue(f float64) Value { return Value{Type: Number, Number: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Type: String, Text: s} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Type: Boolean, Bool: b} }

// Default returns the placeholder written to a freshly created module
// instance before its first real value arrives.
func Default(t ValueType) Value {
	return Value{Type: t}
}

// Coerce converts a decoded JSON value into a Value of type t.
//
// Numbers accept any JSON number (and booleans as 0/1), strings accept
// any scalar, booleans accept JSON booleans and the strings "true"/"false".
func Coerce(t ValueType, raw any) (Value, error) {
	switch t {
	case Number:
		switch v := raw.(type) {
		case float64:
			return NumberValue(v), nil
		case float32:
			return NumberValue(float64(v)), nil
		case int:
			return NumberValue(float64(v)), nil
		case int64:
			return NumberValue(float64(v)), nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidQuery, v)
			}
			return NumberValue(f), nil
		case bool:
			if v {
				return NumberValue(1), nil
			}
			return NumberValue(0), nil
		}
	case String:
		switch v := raw.(type) {
		case string:
			return StringValue(v), nil
		case float64:
			return StringValue(strconv.FormatFloat(v, 'f', -1, 64)), nil
		case bool:
			return StringValue(strconv.FormatBool(v)), nil
		}
	case Boolean:
		switch v := raw.(type) {
		case bool:
			return BoolValue(v), nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err == nil {
				return BoolValue(b), nil
			}
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown value type %q", ErrInvalidQuery, t)
	}
	return Value{}, fmt.Errorf("%w: %T cannot be stored as %s", ErrInvalidQuery, raw, t)
}

// Literal formats the value the way it is written to the store: numbers
// with a fixed number of decimals (shortest form when precision < 0),
// strings quoted and booleans lowercased.
func (v Value) Literal(precision int) string {
	switch v.Type {
	case Number:
		return strconv.FormatFloat(v.Number, 'f', precision, 64)
	case Boolean:
		return strconv.FormatBool(v.Bool)
	default:
		return strconv.Quote(v.Text)
	}
}

// Rounded returns v with its number truncated to precision decimals, so
// the stored and buffered value are the same.
func (v Value) Rounded(precision int) Value {
	if v.Type != Number || precision < 0 {
		return v
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(v.Number, 'f', precision, 64), 64)
	if err != nil {
		return v
	}
	v.Number = f
	return v
}

// ParseLiteral is the inverse of Literal.
func ParseLiteral(t ValueType, s string) (Value, error) {
	switch t {
	case Number:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing number literal %q: %w", s, err)
		}
		return NumberValue(f), nil
	case Boolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parsing boolean literal %q: %w", s, err)
		}
		return BoolValue(b), nil
	case String:
		text, err := strconv.Unquote(s)
		if err != nil {
			return Value{}, fmt.Errorf("parsing string literal %q: %w", s, err)
		}
		return StringValue(text), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value type %q", ErrInvalidQuery, t)
	}
}

// Float returns the value as a number for distance computations.
// Booleans map to 0/1; strings report false.
func (v Value) Float() (float64, bool) {
	switch v.Type {
	case Number:
		return v.Number, true
	case Boolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Any returns the value as a plain Go scalar.
func (v Value) Any() any {
	switch v.Type {
	case Number:
		return v.Number
	case Boolean:
		return v.Bool
	default:
		return v.Text
	}
}

// MarshalJSON encodes the value as its plain scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.Literal(-1)
}
