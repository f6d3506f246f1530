package stagekit

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// FuncRef is the stable, comparable identity of a stage function: its
// declaring package path and its name. It plays the role of the original
// implementation's Function wrapper (module + qualified name), and is the
// value actually persisted to disk in place of a Go func value, which gob
// cannot encode directly.
//
// Two FuncRefs compare equal iff both fields match; this is the comparison
// Stage.Equal uses in place of Python's pickle-identity check on functions.
type FuncRef struct {
	Pkg  string
	Name string
}

func (r FuncRef) String() string {
	if r.Pkg == "" {
		return r.Name
	}
	return r.Pkg + "." + r.Name
}

var (
	registryMu sync.RWMutex
	registry   = map[string]any{}
)

// Register associates a stable name with a stage function so that it can be
// resolved after being read back from a checkpoint or shipped to a spawned
// subprocess runner. This is the direct analogue of the original's
// paths.json + sys.path based module re-import: instead of re-importing a
// module by path, the running binary looks the function up by name in a
// table it built at init time.
//
// Call Register from an init() function for every stage function that must
// survive a restart or cross a subprocess boundary.
func Register(name string, fn any) {
	if reflect.ValueOf(fn).Kind() != reflect.Func {
		panic(fmt.Sprintf("stagekit: Register(%q): not a function", name))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Resolve looks up a previously Register-ed function by name. It returns
// ErrNoSuchFunc if no function was registered under that name in this
// process.
func Resolve(name string) (any, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchFunc, name)
	}
	return fn, nil
}

// funcRefOf derives the FuncRef identity of a live Go function value via
// runtime.FuncForPC, trimming the compiler-generated "-fm" method-value
// suffix so that the same top-level function always yields the same ref
// across processes. Closure suffixes such as ".func1" are kept.
func funcRefOf(fn any) FuncRef {
	v := reflect.ValueOf(fn)
	pc := v.Pointer()

	rf := runtime.FuncForPC(pc)
	if rf == nil {
		return FuncRef{Name: "<anonymous>"}
	}

	full := rf.Name()
	full = strings.TrimSuffix(full, "-fm")

	idx := strings.LastIndex(full, "/")
	rest := full
	pkg := ""
	if idx >= 0 {
		pkg = full[:idx]
		rest = full[idx+1:]
	}

	dot := strings.Index(rest, ".")
	if dot >= 0 {
		if pkg == "" {
			pkg = rest[:dot]
		} else {
			pkg = pkg + "/" + rest[:dot]
		}
		rest = rest[dot+1:]
	}

	return FuncRef{Pkg: pkg, Name: rest}
}
