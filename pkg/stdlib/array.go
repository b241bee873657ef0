package stdlib

import (
	"github.com/xenlang/xen/pkg/value"
)

// Arrays builds the `array` namespace: constructors and whole-array
// operations. Per-element operations (push, pop, sort, ...) live on the
// Array type's method table.
func Arrays(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("array")

	bind(arena, ns, "new", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "new"); err != nil {
			return value.Null, err
		}
		n, err := numberArg(args, 0, "new")
		if err != nil {
			return value.Null, err
		}
		count := int(n)
		if count < 0 {
			count = 0
		}
		elements := make([]value.Value, count)
		for i := range elements {
			elements[i] = args[1]
		}
		return value.Object(arena.NewArray(elements)), nil
	})

	bind(arena, ns, "range", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "range"); err != nil {
			return value.Null, err
		}
		start, err := numberArg(args, 0, "range")
		if err != nil {
			return value.Null, err
		}
		end, err := numberArg(args, 1, "range")
		if err != nil {
			return value.Null, err
		}
		var elements []value.Value
		for i := start; i < end; i++ {
			elements = append(elements, value.Number(i))
		}
		return value.Object(arena.NewArray(elements)), nil
	})

	bind(arena, ns, "concat", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "concat"); err != nil {
			return value.Null, err
		}
		a, err := arrayArg(args, 0, "concat")
		if err != nil {
			return value.Null, err
		}
		b, err := arrayArg(args, 1, "concat")
		if err != nil {
			return value.Null, err
		}
		elements := make([]value.Value, 0, len(a.Elements)+len(b.Elements))
		elements = append(elements, a.Elements...)
		elements = append(elements, b.Elements...)
		return value.Object(arena.NewArray(elements)), nil
	})

	return ns
}
