package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// UnmarshalJSON decodes a JSON object, keeping key order and number
// literals as received.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode record: expected JSON object, got %v", tok)
	}
	fields, err := decodeObject(dec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	r.fields = fields
	return nil
}

// Decode parses one JSON object into a Record.
func Decode(data []byte) (Record, error) {
	var r Record
	err := r.UnmarshalJSON(data)
	return r, err
}

// ParseJSON parses one JSON document of any kind into a Value, keeping key
// order and number literals as received. Text is passed through Text.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("parse json: trailing data after value")
	}
	return repairValue(v), nil
}

// decodeObject reads fields up to and including the closing brace.
func decodeObject(dec *json.Decoder) ([]Field, error) {
	var obj Record
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		obj.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj.fields, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			fields, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			return Value{kind: KindObject, fields: fields}, nil
		case '[':
			arr := []Value{}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, fmt.Errorf("[%d]: %w", len(arr), err)
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(arr...), nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
