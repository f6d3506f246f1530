package main

import (
	"context"
	"fmt"
	"reflect"
)

// callViaStage invokes the resolved main entrypoint directly with a zero
// input value and the tree-carrying ctx: Config.Main names a plain Go
// function (not itself stage-wrapped) that orchestrates the run by calling
// into stagekit.Func values, mirroring original_source/main.py's
// `run(stage, main)`, where `main` is an ordinary async function and the
// persisted stage tree comes from whatever it calls under ctx, not from
// `main` itself.
func callViaStage(ctx context.Context, fn any) (any, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() == 0 {
		return nil, fmt.Errorf("stagekit: main entrypoint must be func(context.Context, In) (Out, error)")
	}

	in := make([]reflect.Value, t.NumIn())
	in[0] = reflect.ValueOf(ctx)
	for i := 1; i < t.NumIn(); i++ {
		in[i] = reflect.Zero(t.In(i))
	}

	out := v.Call(in)

	var result any
	var callErr error
	for _, o := range out {
		if o.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			if !o.IsNil() {
				callErr = o.Interface().(error)
			}
			continue
		}
		result = o.Interface()
	}

	return result, callErr
}
