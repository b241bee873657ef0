package stdlib

import (
	"fmt"
	"net"
	"strconv"

	"github.com/xenlang/xen/pkg/value"
)

// netState backs the `net` namespace: synchronous TCP client and server
// primitives. Connections and listeners are identified by numeric handles;
// every call blocks the executing thread until the operation completes.
type netState struct {
	nextHandle  int
	connections map[int]net.Conn
	listeners   map[int]net.Listener
}

func (s *netState) register(conn net.Conn) int {
	h := s.nextHandle
	s.nextHandle++
	s.connections[h] = conn
	return h
}

// Net constructs the namespace with its own handle table, so two VMs never
// share connection state.
func Net(arena *value.Arena) *value.Namespace {
	ns := arena.NewNamespace("net")
	state := &netState{nextHandle: 1, connections: make(map[int]net.Conn), listeners: make(map[int]net.Listener)}

	bind(arena, ns, "connect", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "connect"); err != nil {
			return value.Null, err
		}
		host, err := stringArg(args, 0, "connect")
		if err != nil {
			return value.Null, err
		}
		port, err := numberArg(args, 1, "connect")
		if err != nil {
			return value.Null, err
		}
		conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			return value.Null, err
		}
		return value.Number(float64(state.register(conn))), nil
	})

	bind(arena, ns, "listen", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "listen"); err != nil {
			return value.Null, err
		}
		port, err := numberArg(args, 0, "listen")
		if err != nil {
			return value.Null, err
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", int(port)))
		if err != nil {
			return value.Null, err
		}
		h := state.nextHandle
		state.nextHandle++
		state.listeners[h] = ln
		return value.Number(float64(h)), nil
	})

	bind(arena, ns, "accept", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "accept"); err != nil {
			return value.Null, err
		}
		h, err := numberArg(args, 0, "accept")
		if err != nil {
			return value.Null, err
		}
		ln, ok := state.listeners[int(h)]
		if !ok {
			return value.Null, fmt.Errorf("accept(): no listener with handle %d", int(h))
		}
		conn, err := ln.Accept()
		if err != nil {
			return value.Null, err
		}
		return value.Number(float64(state.register(conn))), nil
	})

	bind(arena, ns, "send", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "send"); err != nil {
			return value.Null, err
		}
		h, err := numberArg(args, 0, "send")
		if err != nil {
			return value.Null, err
		}
		conn, ok := state.connections[int(h)]
		if !ok {
			return value.Null, fmt.Errorf("send(): no connection with handle %d", int(h))
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
			return value.Null, fmt.Errorf("send() argument 2 must be a string or u8array")
		}
		n, err := conn.Write(data)
		if err != nil {
			return value.Null, err
		}
		return value.Number(float64(n)), nil
	})

	bind(arena, ns, "recv", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 2, "recv"); err != nil {
			return value.Null, err
		}
		h, err := numberArg(args, 0, "recv")
		if err != nil {
			return value.Null, err
		}
		maxBytes, err := numberArg(args, 1, "recv")
		if err != nil {
			return value.Null, err
		}
		conn, ok := state.connections[int(h)]
		if !ok {
			return value.Null, fmt.Errorf("recv(): no connection with handle %d", int(h))
		}
		buf := make([]byte, int(maxBytes))
		n, err := conn.Read(buf)
		if err != nil && n == 0 {
			return value.Object(arena.NewU8Array(nil)), nil
		}
		return value.Object(arena.NewU8Array(buf[:n])), nil
	})

	bind(arena, ns, "close", func(args []value.Value) (value.Value, error) {
		if err := wantArgs(args, 1, "close"); err != nil {
			return value.Null, err
		}
		h, err := numberArg(args, 0, "close")
		if err != nil {
			return value.Null, err
		}
		handle := int(h)
		if conn, ok := state.connections[handle]; ok {
			delete(state.connections, handle)
			return value.Null, conn.Close()
		}
		if ln, ok := state.listeners[handle]; ok {
			delete(state.listeners, handle)
			return value.Null, ln.Close()
		}
		return value.Null, fmt.Errorf("close(): no open handle %d", handle)
	})

	return ns
}
