package stdlib

import (
	"math"

	"github.com/xenlang/xen/pkg/value"
)

// Math builds the `math` namespace.
func Math(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("math")

	ns.Bind("pi", value.Number(math.Pi))
	ns.Bind("e", value.Number(math.E))

	unary := func(name string, f func(float64) float64) {
		bind(arena, ns, name, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 1, name); err != nil {
				return value.Null, err
			}
			n, err := numberArg(args, 0, name)
			if err != nil {
				return value.Null, err
			}
			return value.Number(f(n)), nil
		})
	}
	binary := func(name string, f func(float64, float64) float64) {
		bind(arena, ns, name, func(args []value.Value) (value.Value, error) {
			if err := wantArgs(args, 2, name); err != nil {
				return value.Null, err
			}
			a, err := numberArg(args, 0, name)
			if err != nil {
				return value.Null, err
			}
			b, err := numberArg(args, 1, name)
			if err != nil {
				return value.Null, err
			}
			return value.Number(f(a, b)), nil
		})
	}

	unary("sqrt", math.Sqrt)
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("round", math.Round)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)
	unary("log", math.Log)
	unary("exp", math.Exp)
	binary("pow", math.Pow)
	binary("min", math.Min)
	binary("max", math.Max)
	binary("mod", math.Mod)

	return ns
}
