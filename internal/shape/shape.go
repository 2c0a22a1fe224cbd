// Package shape normalizes access to fields on upstream responses whose
// layout is not stable: typed Go structs from an SDK, plain JSON objects,
// and JSON objects that nest their payload under a "data" key.
//
// Responses are decoded once into a Value at the API boundary; every field
// access afterwards goes through Value.Get and never panics.
package shape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindAbsent  Kind = iota
	KindObject       // struct exposing fields as attributes
	KindMap          // string-keyed mapping
	KindWrapped      // mapping with a nested mapping under "data"
	KindList         // sequence
	KindScalar       // string, number, bool
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindMap:
		return "map"
	case KindWrapped:
		return "wrapped"
	case KindList:
		return "list"
	case KindScalar:
		return "scalar"
	default:
		return "absent"
	}
}

// Value is a decoded upstream value. The zero Value is absent.
type Value struct {
	kind   Kind
	raw    any
	fields map[string]any
	data   map[string]any
	obj    reflect.Value
	items  []any
}

// Absent is the value returned for missing fields.
var Absent = Value{}

// Decode classifies v. JSON bytes (json.RawMessage or []byte) are parsed
// first; a Value is returned unchanged.
func Decode(v any) Value {
	switch t := v.(type) {
	case nil:
		return Absent
	case Value:
		return t
	case *Value:
		if t == nil {
			return Absent
		}
		return *t
	case json.RawMessage:
		return decodeJSON(t)
	case []byte:
		return decodeJSON(t)
	case map[string]any:
		return fromMap(t)
	case []any:
		return Value{kind: KindList, raw: t, items: t}
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Absent
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return Value{kind: KindObject, raw: v, obj: rv}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{kind: KindScalar, raw: v}
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return fromMap(m)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Absent
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return Value{kind: KindList, raw: v, items: items}
	case reflect.String:
		// Named string types (enums in SDKs) are flattened so Str works.
		return Value{kind: KindScalar, raw: rv.String()}
	default:
		return Value{kind: KindScalar, raw: rv.Interface()}
	}
}

func decodeJSON(b []byte) Value {
	if len(bytes.TrimSpace(b)) == 0 {
		return Absent
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Value{kind: KindScalar, raw: string(b)}
	}
	return Decode(v)
}

func fromMap(m map[string]any) Value {
	if nested, ok := m["data"].(map[string]any); ok {
		return Value{kind: KindWrapped, raw: m, fields: m, data: nested}
	}
	return Value{kind: KindMap, raw: m, fields: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v holds nothing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Raw returns the value as it was decoded.
func (v Value) Raw() any { return v.raw }

// Get resolves field in order: struct attribute, mapping key, key inside a
// nested "data" mapping, then the JSON representation of a struct.
func (v Value) Get(field string) Value {
	switch v.kind {
	case KindObject:
		if fv, ok := structField(v.obj, field); ok {
			return Decode(fv)
		}
		return v.viaJSON(field)
	case KindMap, KindWrapped:
		if fv, ok := v.fields[field]; ok {
			return Decode(fv)
		}
		if fv, ok := v.data[field]; ok {
			return Decode(fv)
		}
	}
	return Absent
}

// Path follows a chain of fields, e.g. Path("text", "value").
func (v Value) Path(fields ...string) Value {
	cur := v
	for _, f := range fields {
		cur = cur.Get(f)
		if cur.IsAbsent() {
			return Absent
		}
	}
	return cur
}

// Str returns the field as a string when it holds one, "" otherwise.
func (v Value) Str(field string) string {
	s, _ := v.Get(field).raw.(string)
	return s
}

// Items returns the elements of a list; nil for any other kind.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.items))
	for i, it := range v.items {
		out[i] = Decode(it)
	}
	return out
}

// Text renders v as display text: strings verbatim, other scalars with
// their natural formatting, containers as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindAbsent:
		return ""
	case KindScalar:
		switch s := v.raw.(type) {
		case string:
			return s
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		default:
			return fmt.Sprint(s)
		}
	}
	b, err := marshalLiteral(v.raw)
	if err != nil {
		return fmt.Sprintf("%v", v.raw)
	}
	return string(b)
}

// MarshalJSON emits the underlying value so snapshots can be embedded in
// diagnostics as-is.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindAbsent {
		return []byte("null"), nil
	}
	return marshalLiteral(v.raw)
}

func (v Value) viaJSON(field string) Value {
	b, err := json.Marshal(v.raw)
	if err != nil {
		return Absent
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return Absent
	}
	if fv, ok := m[field]; ok {
		return Decode(fv)
	}
	return Absent
}

func structField(rv reflect.Value, field string) (any, bool) {
	for _, sf := range reflect.VisibleFields(rv.Type()) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		name, skip := jsonName(sf)
		if skip {
			continue
		}
		if name != field && !strings.EqualFold(sf.Name, field) {
			continue
		}
		fv, err := rv.FieldByIndexErr(sf.Index)
		if err != nil {
			return nil, false
		}
		return fv.Interface(), true
	}
	return nil, false
}

func jsonName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, false
}

func marshalLiteral(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
