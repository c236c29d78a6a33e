/*******************************************************************************
 * Copyright (c) 2026 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

// Package dataset holds the record model that flows through the archive: an
// ordered sequence of records, each a mapping of field names to values that
// remembers the order its fields were first seen in.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrNotObject = Error("record is not a JSON object")
	ErrNotArray  = Error("snapshot is not a JSON array")
)

// Record is a single dataset entry. Field values are one of string,
// json.Number, bool, nil, []any or *Record.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set sets the value of the named field. New fields are appended after the
// existing ones. []string values are stored as []any.
func (r *Record) Set(key string, value any) *Record {
	if r.values == nil {
		r.values = make(map[string]any)
	}

	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}

	r.values[key] = normalise(value)

	return r
}

func normalise(value any) any {
	switch v := value.(type) {
	case []string:
		list := make([]any, len(v))
		for n, s := range v {
			list[n] = s
		}

		return list
	case int:
		return json.Number(fmt.Sprintf("%d", v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		r := NewRecord()
		for _, k := range keys {
			r.Set(k, v[k])
		}

		return r
	case []any:
		list := make([]any, len(v))
		for n := range v {
			list[n] = normalise(v[n])
		}

		return list
	}

	return value
}

// Get returns the value of the named field, and whether it was present.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]

	return v, ok
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the record as a JSON object, fields in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	if err := encodeValue(&buf, r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if tok != json.Delim('{') {
		return ErrNotObject
	}

	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}

	*r = *decoded

	return nil
}

func decodeObject(dec *json.Decoder) (*Record, error) {
	r := NewRecord()

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v: %w", tok, ErrNotObject)
		}

		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		r.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return r, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch tok {
	case json.Delim('{'):
		return decodeObject(dec)
	case json.Delim('['):
		list := make([]any, 0)

		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}

			list = append(list, v)
		}

		if _, err := dec.Token(); err != nil {
			return nil, err
		}

		return list, nil
	}

	return tok, nil
}

func encodeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case *Record:
		buf.WriteByte('{')

		for n, key := range v.keys {
			if n > 0 {
				buf.WriteByte(',')
			}

			if err := encodeScalar(buf, key); err != nil {
				return err
			}

			buf.WriteByte(':')

			if err := encodeValue(buf, v.values[key]); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')

		for n, elem := range v {
			if n > 0 {
				buf.WriteByte(',')
			}

			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	default:
		return encodeScalar(buf, v)
	}

	return nil
}

func encodeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return err
	}

	buf.Truncate(buf.Len() - 1)

	return nil
}

// Canonical returns a string form of value that is equal for two values iff
// they are structurally equal, ignoring the order of record fields and of list
// elements. Repeated list elements are kept, so lists compare as multisets.
func Canonical(value any) string {
	var sb strings.Builder

	writeCanonical(&sb, value)

	return sb.String()
}

func writeCanonical(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case *Record:
		keys := v.Keys()
		sort.Strings(keys)

		sb.WriteByte('{')

		for n, key := range keys {
			if n > 0 {
				sb.WriteByte(',')
			}

			writeScalar(sb, key)
			sb.WriteByte(':')
			writeCanonical(sb, v.values[key])
		}

		sb.WriteByte('}')
	case []any:
		elems := make([]string, len(v))
		for n, elem := range v {
			elems[n] = Canonical(elem)
		}

		sort.Strings(elems)

		sb.WriteByte('[')
		sb.WriteString(strings.Join(elems, ","))
		sb.WriteByte(']')
	default:
		writeScalar(sb, v)
	}
}

func writeScalar(sb *strings.Builder, v any) {
	var buf bytes.Buffer

	if err := encodeScalar(&buf, v); err != nil {
		fmt.Fprintf(sb, "%#v", v)

		return
	}

	sb.Write(buf.Bytes())
}

// Snapshot is the full, ordered record sequence of one dataset version.
type Snapshot []*Record

// Marshal returns the canonical minified serialisation of v: compact JSON,
// UTF-8, no HTML escaping and no trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Decode reads a JSON array of objects.
func Decode(r io.Reader) (Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	if tok != json.Delim('[') {
		return nil, ErrNotArray
	}

	snap := make(Snapshot, 0)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		if tok != json.Delim('{') {
			return nil, ErrNotObject
		}

		r, err := decodeObject(dec)
		if err != nil {
			return nil, err
		}

		snap = append(snap, r)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrNotArray
	}

	return snap, nil
}

// Paginate splits the snapshot into consecutive pages of at most size
// records. The final page may be shorter.
func (s Snapshot) Paginate(size int) []Snapshot {
	if size <= 0 {
		size = 1
	}

	pages := make([]Snapshot, 0, PageCount(len(s), size))

	for start := 0; start < len(s); start += size {
		pages = append(pages, s[start:min(start+size, len(s))])
	}

	return pages
}

// PageCount returns ceil(n / size).
func PageCount(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}

	return (n + size - 1) / size
}
