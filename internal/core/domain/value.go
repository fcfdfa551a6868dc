package domain

import "math"

type ValueType string

const (
	ValueText     ValueType = "text"
	ValueNumber   ValueType = "number"
	ValueInteger  ValueType = "integer"
	ValueQuantity ValueType = "quantity"
	ValueMoney    ValueType = "money"
	ValueBool     ValueType = "bool"
	ValueNull     ValueType = "null"
)

// Value is a typed leaf field of an extracted item. Quantity and money values carry their unit
// (for money the unit is the currency code).
type Value struct {
	Type   ValueType `json:"type"`
	Text   string    `json:"text,omitempty"`
	Number *float64  `json:"number,omitempty"`
	Bool   *bool     `json:"bool,omitempty"`
	Unit   string    `json:"unit,omitempty"`
}

func Text(s string) Value { return Value{Type: ValueText, Text: s} }

func Number(f float64) Value { return Value{Type: ValueNumber, Number: &f} }

func Integer(n int64) Value {
	f := float64(n)
	return Value{Type: ValueInteger, Number: &f}
}

func Quantity(f float64, unit string) Value { return Value{Type: ValueQuantity, Number: &f, Unit: unit} }

func Money(f float64, currency string) Value { return Value{Type: ValueMoney, Number: &f, Unit: currency} }

func Flag(b bool) Value { return Value{Type: ValueBool, Bool: &b} }

func Null() Value { return Value{Type: ValueNull} }

func (v Value) IsNull() bool { return v.Type == ValueNull }

// Float returns the numeric payload of number-like values.
func (v Value) Float() (float64, bool) {
	if v.Number == nil || math.IsNaN(*v.Number) || math.IsInf(*v.Number, 0) {
		return 0, false
	}
	switch v.Type {
	case ValueNumber, ValueInteger, ValueQuantity, ValueMoney:
		return *v.Number, true
	default:
		return 0, false
	}
}

func (v Value) clone() Value {
	out := v
	if v.Number != nil {
		n := *v.Number
		out.Number = &n
	}
	if v.Bool != nil {
		b := *v.Bool
		out.Bool = &b
	}
	return out
}
