package record

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text returns s as valid, NFC-normalized UTF-8. Ill-formed byte sequences
// are replaced with U+FFFD.
func Text(s string) string {
	if utf8.ValidString(s) && norm.NFC.IsNormalString(s) {
		return s
	}
	out, _, err := transform.String(transform.Chain(runes.ReplaceIllFormed(), norm.NFC), s)
	if err != nil {
		return string([]rune(s))
	}
	return out
}

// FromSQL converts a value scanned by database/sql into a Value. Text and
// []byte are sanitized with Text; unknown types are rendered with fmt.
func FromSQL(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(val)
	case int64:
		return Int(val)
	case int:
		return Int(int64(val))
	case int32:
		return Int(int64(val))
	case int16:
		return Int(int64(val))
	case int8:
		return Int(int64(val))
	case uint32:
		return Int(int64(val))
	case uint16:
		return Int(int64(val))
	case uint8:
		return Int(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return Number(json.Number(strconv.FormatUint(val, 10)))
		}
		return Int(int64(val))
	case uint:
		return FromSQL(uint64(val))
	case float64:
		return Float(val)
	case float32:
		return Float(float64(val))
	case json.Number:
		return Number(val)
	case string:
		return String(Text(val))
	case []byte:
		return String(Text(string(val)))
	case time.Time:
		return Time(val)
	case []any:
		arr := make([]Value, len(val))
		for i, elem := range val {
			arr[i] = FromSQL(elem)
		}
		return Array(arr...)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var obj Record
		for _, k := range keys {
			obj.Set(Text(k), FromSQL(val[k]))
		}
		return Object(obj)
	case fmt.Stringer:
		return String(Text(val.String()))
	default:
		return String(Text(fmt.Sprint(val)))
	}
}

// FromSQLJSON converts the value of a JSON column. The document is decoded
// into nested values; a value that does not parse falls back to FromSQL.
func FromSQLJSON(v any) Value {
	var data []byte
	switch val := v.(type) {
	case []byte:
		data = val
	case string:
		data = []byte(val)
	default:
		return FromSQL(v)
	}
	parsed, err := ParseJSON(data)
	if err != nil {
		return FromSQL(v)
	}
	return parsed
}

// Repair returns a copy of r with every field name and text value passed
// through Text and every time value rendered as an ISO-8601 string. Floats
// are left untouched, so a record holding NaN still fails to encode.
func Repair(r Record) Record {
	return Record{fields: repairFields(r.fields)}
}

func repairFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: Text(f.Name), Value: repairValue(f.Value)}
	}
	return out
}

func repairValue(v Value) Value {
	switch v.kind {
	case KindString:
		return String(Text(v.s))
	case KindTime:
		return String(v.t.Format(time.RFC3339Nano))
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, elem := range v.arr {
			arr[i] = repairValue(elem)
		}
		return Array(arr...)
	case KindObject:
		return Value{kind: KindObject, fields: repairFields(v.fields)}
	}
	return v
}
