// Package vm - built-in type method tables.
//
// String, Array, Dict, Number, Error, and U8Array each carry a static table
// of (name, native, isProperty) entries consulted by property and invoke
// dispatch after instance and namespace resolution fail. A property-style
// entry is invoked immediately on read with the receiver as sole argument;
// the rest bind into a BoundMethod (or are called directly through INVOKE).
// args[0] is always the receiver.
package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xenlang/xen/pkg/value"
)

type builtinMethod struct {
	name       string
	fn         *value.NativeFunction
	isProperty bool
}

// builtinMethod finds name in the receiver's type method table.
func (vm *VM) builtinMethod(receiver value.Value, name string) (builtinMethod, bool) {
	var table []builtinMethod
	switch {
	case receiver.IsNumber():
		table = vm.numberMethods
	case receiver.IsObject():
		switch receiver.AsObject().(type) {
		case *value.String:
			table = vm.stringMethods
		case *value.Array:
			table = vm.arrayMethods
		case *value.Dict:
			table = vm.dictMethods
		case *value.Error:
			table = vm.errorMethods
		case *value.U8Array:
			table = vm.u8arrayMethods
		}
	}
	for _, m := range table {
		if m.name == name {
			return m, true
		}
	}
	return builtinMethod{}, false
}

func (vm *VM) method(name string, isProperty bool, fn value.NativeFn) builtinMethod {
	return builtinMethod{
		name:       name,
		fn:         vm.arena.NewNativeFunction(name, fn),
		isProperty: isProperty,
	}
}

func (vm *VM) installMethodTables() {
	vm.stringMethods = vm.buildStringMethods()
	vm.arrayMethods = vm.buildArrayMethods()
	vm.dictMethods = vm.buildDictMethods()
	vm.numberMethods = vm.buildNumberMethods()
	vm.errorMethods = []builtinMethod{
		vm.method("msg", true, func(args []value.Value) (value.Value, error) {
			e := args[0].AsObject().(*value.Error)
			return value.Object(vm.arena.InternString(e.Message)), nil
		}),
	}
	vm.u8arrayMethods = []builtinMethod{
		vm.method("count", true, func(args []value.Value) (value.Value, error) {
			u := args[0].AsObject().(*value.U8Array)
			return value.Number(float64(len(u.Bytes))), nil
		}),
		vm.method("toString", false, func(args []value.Value) (value.Value, error) {
			u := args[0].AsObject().(*value.U8Array)
			return value.Object(vm.arena.InternString(string(u.Bytes))), nil
		}),
	}
}

func recvString(args []value.Value) *value.String { return args[0].AsObject().(*value.String) }

func wantArgs(args []value.Value, n int, name string) error {
	// args[0] is the receiver.
	if len(args)-1 != n {
		return fmt.Errorf("%s() takes %d argument(s), got %d", name, n, len(args)-1)
	}
	return nil
}

func stringArg(args []value.Value, i int, name string) (string, error) {
	s, ok := asString(args[i])
	if !ok {
		return "", fmt.Errorf("%s() argument %d must be a string", name, i)
	}
	return s, nil
}

func numberArg(args []value.Value, i int, name string) (float64, error) {
	if !args[i].IsNumber() {
		return 0, fmt.Errorf("%s() argument %d must be a number", name, i)
	}
	return args[i].AsNumber(), nil
}

func (vm *VM) buildStringMethods() []builtinMethod {
	return []builtinMethod{
		vm.method("length", true, func(args []value.Value) (value.Value, error) {
			return value.Number(float64(len(recvString(args).Value))), nil
		}),
		vm.method("upper", false, func(args []value.Value) (value.Value, error) {
			return value.Object(vm.arena.InternString(strings.ToUpper(recvString(args).Value))), nil
		}),
		vm.method("lower", false, func(args []value.Value) (value.Value, error) {
			return value.Object(vm.arena.InternString(strings.ToLower(recvString(args).Value))), nil
		}),
		vm.method("trim", false, func(args []value.Value) (value.Value, error) {
			return value.Object(vm.arena.InternString(strings.TrimSpace(recvString(args).Value))), nil
		}),
		vm.method("contains", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "contains"); err != nil {
				return value.Null, err
			}
			sub, err := stringArg(args, 1, "contains")
			if err != nil {
				return value.Null, err
			}
			return value.Bool(strings.Contains(recvString(args).Value, sub)), nil
		}),
		vm.method("startsWith", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "startsWith"); err != nil {
				return value.Null, err
			}
			prefix, err := stringArg(args, 1, "startsWith")
			if err != nil {
				return value.Null, err
			}
			return value.Bool(strings.HasPrefix(recvString(args).Value, prefix)), nil
		}),
		vm.method("endsWith", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "endsWith"); err != nil {
				return value.Null, err
			}
			suffix, err := stringArg(args, 1, "endsWith")
			if err != nil {
				return value.Null, err
			}
			return value.Bool(strings.HasSuffix(recvString(args).Value, suffix)), nil
		}),
		vm.method("indexOf", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "indexOf"); err != nil {
				return value.Null, err
			}
			sub, err := stringArg(args, 1, "indexOf")
			if err != nil {
				return value.Null, err
			}
			return value.Number(float64(strings.Index(recvString(args).Value, sub))), nil
		}),
		vm.method("split", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "split"); err != nil {
				return value.Null, err
			}
			sep, err := stringArg(args, 1, "split")
			if err != nil {
				return value.Null, err
			}
			parts := strings.Split(recvString(args).Value, sep)
			elements := make([]value.Value, len(parts))
			for i, p := range parts {
				elements[i] = value.Object(vm.arena.InternString(p))
			}
			return value.Object(vm.arena.NewArray(elements)), nil
		}),
		vm.method("replace", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 2, "replace"); err != nil {
				return value.Null, err
			}
			old, err := stringArg(args, 1, "replace")
			if err != nil {
				return value.Null, err
			}
			new_, err := stringArg(args, 2, "replace")
			if err != nil {
				return value.Null, err
			}
			return value.Object(vm.arena.InternString(strings.ReplaceAll(recvString(args).Value, old, new_))), nil
		}),
		vm.method("substring", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 2, "substring"); err != nil {
				return value.Null, err
			}
			start, err := numberArg(args, 1, "substring")
			if err != nil {
				return value.Null, err
			}
			end, err := numberArg(args, 2, "substring")
			if err != nil {
				return value.Null, err
			}
			s := recvString(args).Value
			lo, hi := int(start), int(end)
			if lo < 0 || hi > len(s) || lo > hi {
				return value.Null, fmt.Errorf("substring(%d, %d) out of bounds for length %d", lo, hi, len(s))
			}
			return value.Object(vm.arena.InternString(s[lo:hi])), nil
		}),
		vm.method("toNumber", false, func(args []value.Value) (value.Value, error) {
			n, err := strconv.ParseFloat(strings.TrimSpace(recvString(args).Value), 64)
			if err != nil {
				return value.Null, fmt.Errorf("cannot parse '%s' as a number", recvString(args).Value)
			}
			return value.Number(n), nil
		}),
		vm.method("bytes", false, func(args []value.Value) (value.Value, error) {
			return value.Object(vm.arena.NewU8Array([]byte(recvString(args).Value))), nil
		}),
	}
}

func (vm *VM) buildArrayMethods() []builtinMethod {
	return []builtinMethod{
		vm.method("count", true, func(args []value.Value) (value.Value, error) {
			a := args[0].AsObject().(*value.Array)
			return value.Number(float64(len(a.Elements))), nil
		}),
		vm.method("push", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "push"); err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			a.Push(args[1])
			return args[0], nil
		}),
		vm.method("pop", false, func(args []value.Value) (value.Value, error) {
			a := args[0].AsObject().(*value.Array)
			v, ok := a.Pop()
			if !ok {
				return value.Null, fmt.Errorf("pop() on empty array")
			}
			return v, nil
		}),
		vm.method("contains", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "contains"); err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			for _, e := range a.Elements {
				if value.Equal(e, args[1]) {
					return value.Bool(true), nil
				}
			}
			return value.Bool(false), nil
		}),
		vm.method("indexOf", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "indexOf"); err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			for i, e := range a.Elements {
				if value.Equal(e, args[1]) {
					return value.Number(float64(i)), nil
				}
			}
			return value.Number(-1), nil
		}),
		vm.method("join", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "join"); err != nil {
				return value.Null, err
			}
			sep, err := stringArg(args, 1, "join")
			if err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			parts := make([]string, len(a.Elements))
			for i, e := range a.Elements {
				parts[i] = e.String()
			}
			return value.Object(vm.arena.InternString(strings.Join(parts, sep))), nil
		}),
		vm.method("reverse", false, func(args []value.Value) (value.Value, error) {
			a := args[0].AsObject().(*value.Array)
			for i, j := 0, len(a.Elements)-1; i < j; i, j = i+1, j-1 {
				a.Elements[i], a.Elements[j] = a.Elements[j], a.Elements[i]
			}
			return args[0], nil
		}),
		vm.method("sort", false, func(args []value.Value) (value.Value, error) {
			a := args[0].AsObject().(*value.Array)
			var sortErr error
			sort.SliceStable(a.Elements, func(i, j int) bool {
				x, y := a.Elements[i], a.Elements[j]
				switch {
				case x.IsNumber() && y.IsNumber():
					return x.AsNumber() < y.AsNumber()
				default:
					xs, xok := asString(x)
					ys, yok := asString(y)
					if xok && yok {
						return xs < ys
					}
					sortErr = fmt.Errorf("sort() requires all numbers or all strings")
					return false
				}
			})
			if sortErr != nil {
				return value.Null, sortErr
			}
			return args[0], nil
		}),
		vm.method("slice", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 2, "slice"); err != nil {
				return value.Null, err
			}
			start, err := numberArg(args, 1, "slice")
			if err != nil {
				return value.Null, err
			}
			end, err := numberArg(args, 2, "slice")
			if err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			lo, hi := int(start), int(end)
			if lo < 0 || hi > len(a.Elements) || lo > hi {
				return value.Null, fmt.Errorf("slice(%d, %d) out of bounds for length %d", lo, hi, len(a.Elements))
			}
			elements := make([]value.Value, hi-lo)
			copy(elements, a.Elements[lo:hi])
			return value.Object(vm.arena.NewArray(elements)), nil
		}),
		vm.method("remove", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "remove"); err != nil {
				return value.Null, err
			}
			i, err := numberArg(args, 1, "remove")
			if err != nil {
				return value.Null, err
			}
			a := args[0].AsObject().(*value.Array)
			idx := int(i)
			if idx < 0 || idx >= len(a.Elements) {
				return value.Null, fmt.Errorf("remove(%d) out of bounds for length %d", idx, len(a.Elements))
			}
			removed := a.Elements[idx]
			a.Elements = append(a.Elements[:idx], a.Elements[idx+1:]...)
			return removed, nil
		}),
	}
}

func (vm *VM) buildDictMethods() []builtinMethod {
	return []builtinMethod{
		vm.method("count", true, func(args []value.Value) (value.Value, error) {
			d := args[0].AsObject().(*value.Dict)
			return value.Number(float64(d.Table.Count())), nil
		}),
		vm.method("has", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "has"); err != nil {
				return value.Null, err
			}
			key, err := stringArg(args, 1, "has")
			if err != nil {
				return value.Null, err
			}
			d := args[0].AsObject().(*value.Dict)
			return value.Bool(d.Table.Has(key)), nil
		}),
		vm.method("remove", false, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, "remove"); err != nil {
				return value.Null, err
			}
			key, err := stringArg(args, 1, "remove")
			if err != nil {
				return value.Null, err
			}
			d := args[0].AsObject().(*value.Dict)
			return value.Bool(d.Table.Delete(key)), nil
		}),
		vm.method("keys", false, func(args []value.Value) (value.Value, error) {
			d := args[0].AsObject().(*value.Dict)
			var keys []value.Value
			d.Table.Each(func(k string, _ value.Value) bool {
				keys = append(keys, value.Object(vm.arena.InternString(k)))
				return true
			})
			return value.Object(vm.arena.NewArray(keys)), nil
		}),
		vm.method("values", false, func(args []value.Value) (value.Value, error) {
			d := args[0].AsObject().(*value.Dict)
			var values []value.Value
			d.Table.Each(func(_ string, v value.Value) bool {
				values = append(values, v)
				return true
			})
			return value.Object(vm.arena.NewArray(values)), nil
		}),
	}
}

func (vm *VM) buildNumberMethods() []builtinMethod {
	unary := func(name string, f func(float64) float64) builtinMethod {
		return vm.method(name, false, func(args []value.Value) (value.Value, error) {
			return value.Number(f(args[0].AsNumber())), nil
		})
	}
	return []builtinMethod{
		unary("floor", math.Floor),
		unary("ceil", math.Ceil),
		unary("round", math.Round),
		unary("abs", math.Abs),
		vm.method("toString", false, func(args []value.Value) (value.Value, error) {
			return value.Object(vm.arena.InternString(args[0].String())), nil
		}),
	}
}
