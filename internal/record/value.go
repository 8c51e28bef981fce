package record

import (
	"encoding/json"
	"time"
)

// Kind identifies which of the closed set of value kinds a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	// KindNumber is a JSON number literal kept verbatim from a source document.
	KindNumber
	KindString
	KindTime
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindNumber: "number",
	KindString: "string",
	KindTime:   "time",
	KindArray:  "array",
	KindObject: "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is an immutable field value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string // KindString text or KindNumber literal
	t      time.Time
	arr    []Value
	fields []Field
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value. Non-finite floats cannot be encoded.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Number returns a number literal that is written out unchanged.
func Number(n json.Number) Value { return Value{kind: KindNumber, s: string(n)} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Time returns a timestamp value, encoded as RFC 3339 with nanoseconds.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Array returns an array of values.
func Array(vals ...Value) Value { return Value{kind: KindArray, arr: vals} }

// Object returns a nested record value.
func Object(r Record) Value { return Value{kind: KindObject, fields: r.fields} }

// Kind reports the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsNumber returns the number literal held by v.
func (v Value) AsNumber() (json.Number, bool) { return json.Number(v.s), v.kind == KindNumber }

// AsString returns the text held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the timestamp held by v.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsArray returns the elements held by v. The slice must not be modified.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the nested record held by v.
func (v Value) AsObject() (Record, bool) { return Record{fields: v.fields}, v.kind == KindObject }
