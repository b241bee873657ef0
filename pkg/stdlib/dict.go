package stdlib

import (
	"fmt"

	"github.com/xenlang/xen/pkg/value"
)

// Dicts builds the `dict` namespace. Per-key operations (has, remove, keys,
// values) live on the Dict type's method table.
func Dicts(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("dict")

	bind(arena, ns, "new", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "new"); err != nil {
			return value.Null, err
		}
		return value.Object(arena.NewDict()), nil
	})

	bind(arena, ns, "merge", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "merge"); err != nil {
			return value.Null, err
		}
		a, err := dictArg(args, 0, "merge")
		if err != nil {
			return value.Null, err
		}
		b, err := dictArg(args, 1, "merge")
		if err != nil {
			return value.Null, err
		}
		merged := arena.NewDict()
		a.Table.Each(func(k string, v value.Value) bool {
			merged.Table.Set(k, v)
			return true
		})
		b.Table.Each(func(k string, v value.Value) bool {
			merged.Table.Set(k, v)
			return true
		})
		return value.Object(merged), nil
	})

	return ns
}

func dictArg(args []value.Value, i int, name string) (*value.Dict, error) {
	if args[i].IsObject() {
		if d, ok := args[i].AsObject().(*value.Dict); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%s() argument %d must be a dict", name, i+1)
}
