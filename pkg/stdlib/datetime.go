package stdlib

import (
	"time"

	"github.com/xenlang/xen/pkg/value"
)

// DateTime builds the `datetime` namespace. Timestamps are numbers: seconds
// since the Unix epoch, fractional part included.
func DateTime(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("datetime")

	bind(arena, ns, "now", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "now"); err != nil {
			return value.Null, err
		}
		return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
	})

	bind(arena, ns, "nowMillis", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "nowMillis"); err != nil {
			return value.Null, err
		}
		return value.Number(float64(time.Now().UnixMilli())), nil
	})

	bind(arena, ns, "format", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "format"); err != nil {
			return value.Null, err
		}
		ts, err := numberArg(args, 0, "format")
		if err != nil {
			return value.Null, err
		}
		layout, err := stringArg(args, 1, "format")
		if err != nil {
			return value.Null, err
		}
		t := time.Unix(int64(ts), int64((ts-float64(int64(ts)))*1e9))
		return value.Object(arena.InternString(t.Format(layout))), nil
	})

	// sleep blocks the calling thread; nothing in the VM preempts it.
	bind(arena, ns, "sleep", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "sleep"); err != nil {
			return value.Null, err
		}
		seconds, err := numberArg(args, 0, "sleep")
		if err != nil {
			return value.Null, err
		}
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return value.Null, nil
	})

	return ns
}
