package stdlib

import (
	"os"
	"path/filepath"

	"github.com/xenlang/xen/pkg/value"
)

// OS builds the `os` namespace: process arguments, environment, working
// directory, basic file operations, and exit.
func OS(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("os")

	bind(arena, ns, "args", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "args"); err != nil {
			return value.Null, err
		}
		elements := make([]value.Value, len(os.Args))
		for i, a := range os.Args {
			elements[i] = value.Object(arena.InternString(a))
		}
		return value.Object(arena.NewArray(elements)), nil
	})

	bind(arena, ns, "env", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "env"); err != nil {
			return value.Null, err
		}
		name, err := stringArg(args, 0, "env")
		if err != nil {
			return value.Null, err
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return value.Null, nil
		}
		return value.Object(arena.InternString(v)), nil
	})

	bind(arena, ns, "cwd", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "cwd"); err != nil {
			return value.Null, err
		}
		dir, err := os.Getwd()
		if err != nil {
			return value.Null, err
		}
		return value.Object(arena.InternString(dir)), nil
	})

	bind(arena, ns, "absPath", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "absPath"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "absPath")
		if err != nil {
			return value.Null, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return value.Null, err
		}
		return value.Object(arena.InternString(abs)), nil
	})

	bind(arena, ns, "readFile", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "readFile"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "readFile")
		if err != nil {
			return value.Null, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return value.Null, err
		}
		return value.Object(arena.InternString(string(data))), nil
	})

	bind(arena, ns, "readBytes", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "readBytes"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "readBytes")
		if err != nil {
			return value.Null, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return value.Null, err
		}
		return value.Object(arena.NewU8Array(data)), nil
	})

	bind(arena, ns, "writeFile", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "writeFile"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "writeFile")
		if err != nil {
			return value.Null, err
		}
		var data []byte
		if args[1].IsObject() {
			switch obj := args[1].AsObject().(type) {
			case *value.String:
				data = []byte(obj.Value)
			case *value.U8Array:
				data = obj.Bytes
			}
		}
		if data == nil {
			data = []byte(args[1].String())
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return value.Null, err
		}
		return value.Null, nil
	})

	bind(arena, ns, "exists", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "exists"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "exists")
		if err != nil {
			return value.Null, err
		}
		_, statErr := os.Stat(path)
		return value.Bool(statErr == nil), nil
	})

	bind(arena, ns, "remove", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "remove"); err != nil {
			return value.Null, err
		}
		path, err := stringArg(args, 0, "remove")
		if err != nil {
			return value.Null, err
		}
		if err := os.Remove(path); err != nil {
			return value.Null, err
		}
		return value.Null, nil
	})

	bind(arena, ns, "exit", func(args []value.Value) (value.Value, error) {
		code := 0
		if len(args) == 1 && args[0].IsNumber() {
			code = int(args[0].AsNumber())
		}
		os.Exit(code)
		return value.Null, nil
	})

	return ns
}
