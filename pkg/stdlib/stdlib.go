// Package stdlib builds the standard-library namespaces the VM exposes to
// Xen programs through `include NAME;`: math, io, string, datetime, array,
// dict, os, and net.
//
// Each namespace is an ordered list of (name, value) bindings whose values
// are native functions allocated on the VM's arena. Natives follow the
// shared ABI: they receive the evaluated argument slice and return a result
// or an error; a non-nil error becomes a runtime error in the caller.
package stdlib

import (
	"fmt"
	"io"

	"github.com/xenlang/xen/pkg/value"
)

// All constructs every standard namespace keyed by its include name. stdout
// and stdin back the io namespace's print and read natives.
func All(arena *value.Arena, stdout io.Writer, stdin io.Reader) map[string]*value.Namespace {
	return map[string]*value.Namespace{
		"math":     Math(arena),
		"io":       IO(arena, stdout, stdin),
		"string":   Strings(arena),
		"datetime": DateTime(arena),
		"array":    Arrays(arena),
		"dict":     Dicts(arena),
		"os":       OS(arena),
		"net":      Net(arena),
	}
}

// bind adds a native function entry to ns.
func bind(arena *value.Arena, ns *value.Namespace, name string, fn value.NativeFn) {
	ns.Bind(name, value.Object(arena.NewNativeFunction(name, fn)))
}

func wantArgs(args []value.Value, n int, name string) error {
	if len(args) != n {
		return fmt.Errorf("%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func numberArg(args []value.Value, i int, name string) (float64, error) {
	if !args[i].IsNumber() {
		return 0, fmt.Errorf("%s() argument %d must be a number", name, i+1)
	}
	return args[i].AsNumber(), nil
}

func stringArg(args []value.Value, i int, name string) (string, error) {
	if args[i].IsObject() {
		if s, ok := args[i].AsObject().(*value.String); ok {
			return s.Value, nil
		}
	}
	return "", fmt.Errorf("%s() argument %d must be a string", name, i+1)
}

func arrayArg(args []value.Value, i int, name string) (*value.Array, error) {
	if args[i].IsObject() {
		if a, ok := args[i].AsObject().(*value.Array); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s() argument %d must be an array", name, i+1)
}
