package stagekit

import (
	"encoding/gob"
	"reflect"
)

// registerGobTypes walks t and every struct/slice/array/map/pointer type it
// reaches, gob.Registering each one. A stage's argument fields (boxed in
// Surrogate.Inline) and its return value (boxed in Stage.Result) are both
// held behind an `any`, and encoding/gob refuses to encode a concrete type
// placed in an interface unless that type has been registered — this is
// the automatic counterpart to the FuncRef registration New already
// performs for the wrapped function itself, so a caller never has to call
// gob.Register by hand for an ordinary struct argument or result type.
func registerGobTypes(t reflect.Type) {
	registerGobTypesVisited(t, map[reflect.Type]bool{})
}

func registerGobTypesVisited(t reflect.Type, seen map[reflect.Type]bool) {
	if t == nil || seen[t] {
		return
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map, reflect.Pointer:
		// Any of these kinds can be the concrete type gob sees when this
		// value (or a value of this exact type nested elsewhere) is boxed
		// directly into an Inline/Result `any` field, not just structs, so
		// register the composite type itself in addition to recursing.
		gob.Register(reflect.Zero(t).Interface())
	}

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		registerGobTypesVisited(t.Elem(), seen)
	case reflect.Map:
		registerGobTypesVisited(t.Key(), seen)
		registerGobTypesVisited(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if field := t.Field(i); field.IsExported() {
				registerGobTypesVisited(field.Type, seen)
			}
		}
	}
}
