package envelope

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
)

// maxPlainDepth bounds payload nesting, mirroring the JSON depth guard on UI specs
const maxPlainDepth = 64

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// checkPlain rejects values the transport cannot carry: functions, channels,
// complex numbers, unsafe pointers, unsupported map keys and cycles.
func checkPlain(v any) error {
	if v == nil {
		return fmt.Errorf("payload is nil")
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return fmt.Errorf("payload is not valid JSON")
		}
		return nil
	}
	w := &plainWalker{seen: make(map[visit]struct{})}
	return w.walk(reflect.ValueOf(v), "payload", 0)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type plainWalker struct {
	seen map[visit]struct{}
}

func (w *plainWalker) walk(v reflect.Value, path string, depth int) error {
	if depth > maxPlainDepth {
		return fmt.Errorf("%s: nesting deeper than %d", path, maxPlainDepth)
	}
	if !v.IsValid() {
		return nil
	}
	if v.Type().Implements(jsonMarshalerType) {
		return nil
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%s: %s values are not serializable", path, v.Kind())

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), path, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return w.walk(v.Elem(), path, depth+1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if !validMapKey(v.Type().Key()) {
			return fmt.Errorf("%s: map key type %s is not serializable", path, v.Type().Key())
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		iter := v.MapRange()
		for iter.Next() {
			if err := w.walk(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key()), depth+1); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		// []byte marshals as base64
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return w.walkElems(v, path, depth)

	case reflect.Array:
		return w.walkElems(v, path, depth)

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if err := w.walk(v.Field(i), path+"."+f.Name, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (w *plainWalker) walkElems(v reflect.Value, path string, depth int) error {
	for i := 0; i < v.Len(); i++ {
		if err := w.walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// enter marks a reference as on the current path; revisiting it means a cycle
func (w *plainWalker) enter(v reflect.Value, path string) (func(), error) {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if _, ok := w.seen[key]; ok {
		return nil, fmt.Errorf("%s: cyclic reference", path)
	}
	w.seen[key] = struct{}{}
	return func() { delete(w.seen, key) }, nil
}

func validMapKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return t.Implements(textMarshalerType)
}
