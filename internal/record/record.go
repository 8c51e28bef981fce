package record

import (
	"strconv"
	"strings"
	"time"
)

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value Value
}

// F is a shorthand for Field construction.
// Example: New(F("id", Int(1)), F("name", String("cart")))
func F(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// Record is an ordered mapping of field name to Value. Field order is the
// order in which fields were received and is preserved on encoding.
type Record struct {
	fields []Field
}

// New creates a record from fields. A repeated name keeps its first position
// and takes the last value.
func New(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the value of the named field.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value of an existing field or appends a new one.
func (r *Record) Set(name string, v Value) {
	for i := range r.fields {
		if r.fields[i].Name == name {
			r.fields[i].Value = v
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// String renders r for diagnostics. Unlike encoding it never fails: invalid
// text is quoted with escapes.
func (r Record) String() string {
	var b strings.Builder
	writeDebugObject(&b, r.fields)
	return b.String()
}

func writeDebugObject(b *strings.Builder, fields []Field) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(f.Name))
		b.WriteString(": ")
		writeDebugValue(b, f.Value)
	}
	b.WriteByte('}')
}

func writeDebugValue(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		b.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindNumber:
		b.WriteString(v.s)
	case KindString:
		b.WriteString(strconv.Quote(v.s))
	case KindTime:
		b.WriteString(v.t.Format(time.RFC3339Nano))
	case KindArray:
		b.WriteByte('[')
		for i, elem := range v.arr {
			if i > 0 {
				b.WriteString(", ")
			}
			writeDebugValue(b, elem)
		}
		b.WriteByte(']')
	case KindObject:
		writeDebugObject(b, v.fields)
	}
}
