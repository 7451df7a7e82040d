package graph

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValue_Literal(t *testing.T) {
	tests := []struct {
		v         Value
		precision int
		want      string
	}{
		{NumberValue(21.456), 2, "21.46"},
		{NumberValue(21), 2, "21.00"},
		{NumberValue(0.125), -1, "0.125"},
		{StringValue(`say "hi"`), 2, `"say \"hi\""`},
		{BoolValue(true), 2, "true"},
		{Default(Boolean), 2, "false"},
		{Default(String), 2, `""`},
	}

	for _, tt := range tests {
		if got := tt.v.Literal(tt.precision); got != tt.want {
			t.Errorf("%+v.Literal(%d) = %s, want %s", tt.v, tt.precision, got, tt.want)
		}
	}
}

func TestParseLiteral_InvertsLiteral(t *testing.T) {
	for _, v := range []Value{NumberValue(-3.5), StringValue("a b"), BoolValue(true)} {
		got, err := ParseLiteral(v.Type, v.Literal(-1))
		if err != nil {
			t.Fatalf("ParseLiteral(%s) error = %v", v.Literal(-1), err)
		}
		if got != v {
			t.Errorf("ParseLiteral(%s) = %+v, want %+v", v.Literal(-1), got, v)
		}
	}

	if _, err := ParseLiteral(Number, "abc"); err == nil {
		t.Error("ParseLiteral(number, abc) expected error")
	}
}

func TestValue_Rounded(t *testing.T) {
	if got := NumberValue(21.4567).Rounded(2); got.Number != 21.46 {
		t.Errorf("Rounded(2) = %v, want 21.46", got.Number)
	}
	if got := StringValue("x").Rounded(2); got.Text != "x" {
		t.Errorf("Rounded on string changed value: %+v", got)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		typ     ValueType
		raw     any
		want    Value
		wantErr bool
	}{
		{"json number", Number, 21.0, NumberValue(21), false},
		{"json.Number", Number, json.Number("4.5"), NumberValue(4.5), false},
		{"bool as number", Number, true, NumberValue(1), false},
		{"string as number", Number, "warm", Value{}, true},
		{"string", String, "ok", StringValue("ok"), false},
		{"number as string", String, 3.0, StringValue("3"), false},
		{"bool", Boolean, false, BoolValue(false), false},
		{"bool text", Boolean, "TRUE", BoolValue(true), false},
		{"bad bool", Boolean, 1.0, Value{}, true},
		{"unknown type", ValueType("blob"), 1.0, Value{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("Coerce() error = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Coerce() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValue_Float(t *testing.T) {
	if f, ok := BoolValue(true).Float(); !ok || f != 1 {
		t.Errorf("BoolValue(true).Float() = %v, %v", f, ok)
	}
	if _, ok := StringValue("x").Float(); ok {
		t.Error("StringValue.Float() should report false")
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{"t": NumberValue(21.5), "on": BoolValue(true)})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"on":true,"t":21.5}` {
		t.Errorf("Marshal() = %s", data)
	}
}
