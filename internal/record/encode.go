package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ErrInvalidUTF8 is reported for field names or text that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 text")

// EncodeError reports the field that could not be encoded.
type EncodeError struct {
	// Path locates the value, e.g. "user.tags[2]".
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// MarshalJSON encodes r as a single JSON object with fields in order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeObject(&buf, "", r.fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendLine appends the JSON encoding of r and a trailing newline to buf.
// On error buf is left as it was.
func AppendLine(buf *bytes.Buffer, r Record) error {
	mark := buf.Len()
	if err := encodeObject(buf, "", r.fields); err != nil {
		buf.Truncate(mark)
		return err
	}
	buf.WriteByte('\n')
	return nil
}

func encodeObject(buf *bytes.Buffer, path string, fields []Field) error {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		fieldPath := joinPath(path, f.Name)
		if err := encodeString(buf, f.Name); err != nil {
			return &EncodeError{Path: fieldPath, Err: fmt.Errorf("field name: %w", err)}
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, fieldPath, f.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeValue(buf *bytes.Buffer, path string, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b, err := json.Marshal(v.f)
		if err != nil {
			return &EncodeError{Path: path, Err: err}
		}
		buf.Write(b)
	case KindNumber:
		if !isNumberLiteral(v.s) {
			return &EncodeError{Path: path, Err: fmt.Errorf("invalid number literal %q", v.s)}
		}
		buf.WriteString(v.s)
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return &EncodeError{Path: path, Err: err}
		}
	case KindTime:
		b, err := v.t.MarshalJSON()
		if err != nil {
			return &EncodeError{Path: path, Err: err}
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, elem := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, fmt.Sprintf("%s[%d]", path, i), elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		return encodeObject(buf, path, v.fields)
	default:
		return &EncodeError{Path: path, Err: fmt.Errorf("unknown value kind %d", v.kind)}
	}
	return nil
}

// encodeString writes s as a JSON string without HTML escaping. encoding/json
// would replace invalid bytes with U+FFFD; that substitution belongs to
// Repair, so invalid text is rejected here.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// json.Encoder adds trailing newline, remove it
	buf.Truncate(buf.Len() - 1)
	return nil
}

func isNumberLiteral(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(s))
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
