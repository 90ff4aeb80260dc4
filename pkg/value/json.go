package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/xid"
)

// The JSON codec below is order-preserving in both directions: documents are
// decoded with a token decoder instead of a Go map, since map decoding would
// destroy field order, which is semantic for sort keys and projection
// directives. A small extended-JSON convention covers the variants plain JSON
// cannot express: {"$oid": "..."}, {"$date": ms}, {"$timestamp": t} and
// {"$numberDecimal": "..."}.

// ParseValue decodes a single JSON value.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Missing(), err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Missing(), NewUnmarshalError("value", string(data))
	}
	return v, nil
}

// ParseDocument decodes a JSON object into an ordered document.
func ParseDocument(data []byte) (*Document, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.Document()
	if !ok {
		return nil, NewUnmarshalError("document", string(data))
	}
	return d, nil
}

// ParseArray decodes a JSON array.
func ParseArray(data []byte) ([]Value, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	arr, ok := v.Arr()
	if !ok {
		return nil, NewUnmarshalError("array", string(data))
	}
	return arr, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Missing(), err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Int64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Missing(), NewUnmarshalError("number", t.String())
		}
		return Double(f), nil
	case json.Delim:
		switch t {
		case '[':
			arr := []Value{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return Missing(), err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Missing(), err
			}
			return Array(arr...), nil
		case '{':
			b := NewDocBuilder(4)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Missing(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Missing(), NewUnmarshalError("document", fmt.Sprintf("%v", keyTok))
				}
				v, err := decodeValue(dec)
				if err != nil {
					return Missing(), err
				}
				if err := b.Add(key, v); err != nil {
					return Missing(), err
				}
			}
			if _, err := dec.Token(); err != nil { // closing }
				return Missing(), err
			}
			return promoteExtended(b.Build())
		}
	}
	return Missing(), NewUnmarshalError("value", fmt.Sprintf("%v", tok))
}

// promoteExtended rewrites single-field extended-JSON wrappers into their
// native variants and leaves every other document untouched.
func promoteExtended(d *Document) (Value, error) {
	if d.Len() != 1 {
		return Doc(d), nil
	}
	f := d.FieldAt(0)
	switch f.Name {
	case "$oid":
		s, ok := f.Value.Str()
		if !ok {
			return Missing(), NewUnmarshalError("$oid", d.String())
		}
		id, err := xid.FromString(s)
		if err != nil {
			return Missing(), NewConversionError("objectid", s, err)
		}
		return ObjectID(id), nil
	case "$date":
		ms, ok := f.Value.Int64()
		if !ok {
			return Missing(), NewUnmarshalError("$date", d.String())
		}
		return Date(ms), nil
	case "$timestamp":
		t, ok := f.Value.Int64()
		if !ok {
			return Missing(), NewUnmarshalError("$timestamp", d.String())
		}
		return Timestamp(t), nil
	case "$numberDecimal":
		s, ok := f.Value.Str()
		if !ok {
			return Missing(), NewUnmarshalError("$numberDecimal", d.String())
		}
		return ParseDecimal(s)
	}
	return Doc(d), nil
}

// MarshalJSON encodes the value in the same extended-JSON convention the
// decoder understands, preserving document field order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON encodes the document with its fields in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeDocument(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case MissingKind, NullKind:
		buf.WriteString("null")
	case BoolKind:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Int32Kind, Int64Kind:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case DoubleKind:
		b, err := json.Marshal(v.f)
		if err != nil {
			return err
		}
		buf.Write(b)
	case DecimalKind:
		fmt.Fprintf(buf, `{"$numberDecimal":%q}`, v.d.String())
	case StringKind:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case DateKind:
		fmt.Fprintf(buf, `{"$date":%d}`, v.i)
	case TimestampKind:
		fmt.Fprintf(buf, `{"$timestamp":%d}`, v.i)
	case ObjectIDKind:
		fmt.Fprintf(buf, `{"$oid":%q}`, v.oid.String())
	case ArrayKind:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case DocumentKind:
		return encodeDocument(buf, v.doc)
	default:
		return errors.New("unencodable value kind")
	}
	return nil
}

func encodeDocument(buf *bytes.Buffer, d *Document) error {
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := json.Marshal(f.Name)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte(':')
		if err := encodeValue(buf, f.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
