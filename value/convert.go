package value

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrUnrepresentable is wrapped by every FromAny failure.
var ErrUnrepresentable = errors.New("value: unrepresentable")

// ConvertError reports where inside a Go value conversion failed.
type ConvertError struct {
	Path   string // e.g. "$.items[2].cb"
	Reason string
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("value: %s at %s", e.Reason, e.Path)
}

func (e *ConvertError) Unwrap() error { return ErrUnrepresentable }

// FromAny converts a native Go value into a Value.
//
// Supported: nil, bool, signed/unsigned integers (uint64 must fit int64),
// finite floats, valid UTF-8 strings, slices and arrays, maps with string keys,
// structs (exported fields, named by `cbor` then `json` tags), pointers and
// interfaces, and Value itself. Everything else fails with a *ConvertError.
func FromAny(x any) (Value, error) {
	return fromReflect(reflect.ValueOf(x), "$", 0)
}

// MustFromAny is FromAny for literals known to be representable.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

var valueType = reflect.TypeOf(Value{})

func fromReflect(rv reflect.Value, path string, level int) (Value, error) {
	if level > MaxDepth {
		return Null(), &ConvertError{Path: path, Reason: fmt.Sprintf("nesting deeper than %d (cyclic value?)", MaxDepth)}
	}
	if !rv.IsValid() {
		return Null(), nil
	}
	if rv.Type() == valueType {
		if !rv.CanInterface() {
			return Null(), &ConvertError{Path: path, Reason: "Value inside an unexported embedded struct"}
		}
		v := rv.Interface().(Value)
		return v, Validate(v)
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromReflect(rv.Elem(), path, level+1)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Null(), &ConvertError{Path: path, Reason: fmt.Sprintf("integer %d overflows int64", u)}
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Null(), &ConvertError{Path: path, Reason: fmt.Sprintf("non-finite float %v", f)}
		}
		return Float(f), nil
	case reflect.String:
		s := rv.String()
		if !utf8.ValidString(s) {
			return Null(), &ConvertError{Path: path, Reason: "invalid UTF-8 string"}
		}
		return String(s), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		fallthrough
	case reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := fromReflect(rv.Index(i), fmt.Sprintf("%s[%d]", path, i), level+1)
			if err != nil {
				return Null(), err
			}
			items[i] = item
		}
		return Value{kind: KindSequence, seq: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), &ConvertError{Path: path, Reason: fmt.Sprintf("map key type %s is not string", rv.Type().Key())}
		}
		if rv.IsNil() {
			return Null(), nil
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			if !utf8.ValidString(key) {
				return Null(), &ConvertError{Path: path, Reason: "invalid UTF-8 map key"}
			}
			item, err := fromReflect(iter.Value(), path+"."+key, level+1)
			if err != nil {
				return Null(), err
			}
			m[key] = item
		}
		return Value{kind: KindMapping, m: m}, nil
	case reflect.Struct:
		return fromStruct(rv, path, level)
	}
	return Null(), &ConvertError{Path: path, Reason: fmt.Sprintf("unsupported type %s", rv.Type())}
}

func fromStruct(rv reflect.Value, path string, level int) (Value, error) {
	fields := structFields(rv.Type())
	m := make(map[string]Value, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(rv, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		item, err := fromReflect(fv, path+"."+f.name, level+1)
		if err != nil {
			return Null(), err
		}
		m[f.name] = item
	}
	return Value{kind: KindMapping, m: m}, nil
}

// fieldByIndex walks into embedded structs. It reports false when a nil
// embedded pointer hides the field.
func fieldByIndex(rv reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return reflect.Value{}, false
			}
			rv = rv.Elem()
		}
		rv = rv.Field(x)
	}
	return rv, true
}

type structField struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type → []structField

func structFields(t reflect.Type) []structField {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]structField)
	}
	f, _ := fieldCache.LoadOrStore(t, collectFields(t))
	return f.([]structField)
}

// collectFields lists the fields of t the way encoding/json and the cbor
// library see them: untagged embedded structs are flattened, and a name
// claimed at a shallower depth hides deeper ones. Among fields at the same
// depth a single tagged field wins; otherwise the name is dropped.
func collectFields(t reflect.Type) []structField {
	type embedded struct {
		typ   reflect.Type
		index []int
	}

	var fields []structField
	claimed := map[string]bool{}
	visited := map[reflect.Type]bool{}
	next := []embedded{{typ: t}}

	for len(next) > 0 {
		current := next
		next = nil
		byName := map[string][]structField{}
		var order []string

		for _, e := range current {
			if visited[e.typ] {
				continue
			}
			for i := 0; i < e.typ.NumField(); i++ {
				sf := e.typ.Field(i)
				ft := sf.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if sf.Anonymous {
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}
				name, tagged, omitEmpty, skip := fieldName(sf)
				if skip {
					continue
				}
				index := append(append([]int(nil), e.index...), i)
				if sf.Anonymous && !tagged && ft.Kind() == reflect.Struct {
					next = append(next, embedded{typ: ft, index: index})
					continue
				}
				if !sf.IsExported() {
					continue
				}
				if claimed[name] {
					continue
				}
				if _, seen := byName[name]; !seen {
					order = append(order, name)
				}
				byName[name] = append(byName[name], structField{
					name:      name,
					index:     index,
					tagged:    tagged,
					omitEmpty: omitEmpty,
				})
			}
		}
		for _, e := range current {
			visited[e.typ] = true
		}

		for _, name := range order {
			claimed[name] = true
			if f, ok := dominantField(byName[name]); ok {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func dominantField(candidates []structField) (structField, bool) {
	if len(candidates) == 1 {
		return candidates[0], true
	}
	var winner *structField
	for i := range candidates {
		if !candidates[i].tagged {
			continue
		}
		if winner != nil {
			return structField{}, false
		}
		winner = &candidates[i]
	}
	if winner == nil {
		return structField{}, false
	}
	return *winner, true
}

// fieldName follows the cbor library's convention: `cbor` tag, then `json`
// tag, then the Go field name. tagged reports an explicit name in the tag.
func fieldName(field reflect.StructField) (name string, tagged, omitEmpty, skip bool) {
	tag, ok := field.Tag.Lookup("cbor")
	if !ok {
		tag, ok = field.Tag.Lookup("json")
	}
	if !ok {
		return field.Name, false, false, false
	}
	if tag == "-" {
		return "", false, false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	tagged = name != ""
	if !tagged {
		name = field.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, tagged, omitEmpty, false
}

// Validate checks that v can be encoded: finite floats, valid UTF-8 and
// bounded nesting.
func Validate(v Value) error {
	return validate(v, "$", 0)
}

func validate(v Value, path string, level int) error {
	if level > MaxDepth {
		return &ConvertError{Path: path, Reason: fmt.Sprintf("nesting deeper than %d (cyclic value?)", MaxDepth)}
	}
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return &ConvertError{Path: path, Reason: fmt.Sprintf("non-finite float %v", v.f)}
		}
	case KindString:
		if !utf8.ValidString(v.s) {
			return &ConvertError{Path: path, Reason: "invalid UTF-8 string"}
		}
	case KindSequence:
		for i, item := range v.seq {
			if err := validate(item, fmt.Sprintf("%s[%d]", path, i), level+1); err != nil {
				return err
			}
		}
	case KindMapping:
		for _, k := range v.Keys() {
			if !utf8.ValidString(k) {
				return &ConvertError{Path: path, Reason: "invalid UTF-8 map key"}
			}
			if err := validate(v.m[k], path+"."+k, level+1); err != nil {
				return err
			}
		}
	case KindNull, KindBool, KindInt:
	default:
		return &ConvertError{Path: path, Reason: fmt.Sprintf("unknown kind %d", v.kind)}
	}
	return nil
}
