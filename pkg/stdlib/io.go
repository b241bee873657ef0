package stdlib

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xenlang/xen/pkg/value"
)

// IO builds the `io` namespace over the given output and input streams.
// Reads block on the calling thread; the VM has no suspension points of its
// own.
func IO(arena *value.Arena, stdout io.Writer, stdin io.Reader) *value.Namespace {
	ns := arena.NewNamespace("io")
	reader := bufio.NewReader(stdin)

	bind(arena, ns, "println", func(args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprintln(stdout, strings.Join(parts, " "))
		return value.Null, nil
	})

	bind(arena, ns, "print", func(args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprint(stdout, strings.Join(parts, " "))
		return value.Null, nil
	})

	bind(arena, ns, "readln", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 0, "readln"); err != nil {
			return value.Null, err
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return value.Null, nil
		}
		return value.Object(arena.InternString(strings.TrimRight(line, "\r\n"))), nil
	})

	return ns
}
