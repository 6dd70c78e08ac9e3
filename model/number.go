package model

import (
	"bytes"
	"encoding/json"
	"math"
)

// Number is a JSON numeric leaf that decodes tolerantly. A non-numeric value
// does not fail decoding; it is kept as raw bytes and reported by the
// validator at the field's path instead. The zero Number means "absent".
type Number struct {
	value float64
	raw   json.RawMessage
	set   bool
	ok    bool
}

// N returns a present, valid Number.
func N(v float64) Number {
	return Number{value: v, set: true, ok: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

// Pair returns a two-element numeric list.
func Pair(a, b float64) []Number {
	return []Number{N(a), N(b)}
}

// Set reports whether the field was present in the document.
func (n Number) Set() bool { return n.set }

// Valid reports whether the field is present and holds a finite number.
func (n Number) Valid() bool { return n.set && n.ok }

// Float returns the numeric value and whether it is valid.
func (n Number) Float() (float64, bool) {
	return n.value, n.Valid()
}

// IsInt reports whether the number is valid and integral.
func (n Number) IsInt() bool {
	return n.Valid() && n.value == math.Trunc(n.value)
}

// IsNonNegativeInt reports whether the number is a valid integer >= 0.
func (n Number) IsNonNegativeInt() bool {
	return n.IsInt() && n.value >= 0
}

// IsZero lets encoding/json omit absent numbers with the omitzero option.
func (n Number) IsZero() bool { return !n.set }

// Raw returns the original bytes of an invalid value, or nil.
func (n Number) Raw() json.RawMessage { return n.raw }

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	if !n.ok {
		if len(n.raw) > 0 {
			return n.raw, nil
		}
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}

// UnmarshalJSON implements json.Unmarshaler. JSON null is treated as absent.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	n.set = true
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		n.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	n.value = f
	n.ok = true
	return nil
}

// IsNumericPair reports whether list holds exactly two valid numbers.
func IsNumericPair(list []Number) bool {
	return len(list) == 2 && list[0].Valid() && list[1].Valid()
}

// IsNonNegativeIntPair reports whether list holds exactly two integers >= 0.
func IsNonNegativeIntPair(list []Number) bool {
	return len(list) == 2 && list[0].IsNonNegativeInt() && list[1].IsNonNegativeInt()
}

// Value is a condition operand: a single number or a numeric pair.
type Value struct {
	scalar Number
	pair   []Number
	isPair bool
	raw    json.RawMessage
	set    bool
}

// ScalarValue returns a Value holding v.
func ScalarValue(v float64) Value {
	return Value{scalar: N(v), set: true}
}

// PairValue returns a Value holding [a, b].
func PairValue(a, b float64) Value {
	return Value{pair: Pair(a, b), isPair: true, set: true}
}

// Set reports whether the value was present.
func (v Value) Set() bool { return v.set }

// IsPair reports whether the value was given as a list.
func (v Value) IsPair() bool { return v.isPair }

// Number returns the scalar operand when the value is a valid number.
func (v Value) Number() (float64, bool) {
	if !v.set || v.isPair {
		return 0, false
	}
	return v.scalar.Float()
}

// Pair returns the operands when the value is a valid two-number list.
func (v Value) Pair() (lo, hi float64, ok bool) {
	if !v.set || !v.isPair || !IsNumericPair(v.pair) {
		return 0, 0, false
	}
	lo, _ = v.pair[0].Float()
	hi, _ = v.pair[1].Float()
	return lo, hi, true
}

// IsZero lets encoding/json omit an absent value.
func (v Value) IsZero() bool { return !v.set }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case !v.set:
		return []byte("null"), nil
	case v.isPair:
		return json.Marshal(v.pair)
	case v.scalar.Set():
		return v.scalar.MarshalJSON()
	case len(v.raw) > 0:
		return v.raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Values that are neither a number
// nor a list of numbers are kept raw and rejected by the validator.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	v.set = true
	if data[0] == '[' {
		var list []Number
		if err := json.Unmarshal(data, &list); err != nil {
			v.raw = append(json.RawMessage(nil), data...)
			return nil
		}
		v.pair = list
		v.isPair = true
		return nil
	}
	var n Number
	_ = n.UnmarshalJSON(data)
	if !n.Valid() {
		v.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	v.scalar = n
	return nil
}
