package stdlib

import (
	"strings"

	"github.com/xenlang/xen/pkg/value"
)

// Strings builds the `string` namespace. Most string operations live on the
// String type's method table; this namespace carries the constructors and
// the operations that don't have a natural receiver.
func Strings(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("string")

	bind(arena, ns, "from", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "from"); err != nil {
			return value.Null, err
		}
		return value.Object(arena.InternString(args[0].String())), nil
	})

	bind(arena, ns, "repeat", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "repeat"); err != nil {
			return value.Null, err
		}
		s, err := stringArg(args, 0, "repeat")
		if err != nil {
			return value.Null, err
		}
		n, err := numberArg(args, 1, "repeat")
		if err != nil {
			return value.Null, err
		}
		if n < 0 {
			n = 0
		}
		return value.Object(arena.InternString(strings.Repeat(s, int(n)))), nil
	})

	bind(arena, ns, "join", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "join"); err != nil {
			return value.Null, err
		}
		arr, err := arrayArg(args, 0, "join")
		if err != nil {
			return value.Null, err
		}
		sep, err := stringArg(args, 1, "join")
		if err != nil {
			return value.Null, err
		}
		parts := make([]string, len(arr.Elements))
		for i, e := range arr.Elements {
			parts[i] = e.String()
		}
		return value.Object(arena.InternString(strings.Join(parts, sep))), nil
	})

	return ns
}
