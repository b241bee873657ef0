// Package vm implements Xen's stack-based bytecode virtual machine.
//
// The VM executes the chunks the compiler emits over a fixed-size value
// stack and a bounded call-frame stack. Each frame windows into the value
// stack: a frame's slot 0 aliases the callee (or `this` for methods), and
// its locals occupy the slots above it. On return, the result value replaces
// the frame's whole [callee, args...] window.
//
// One VM value is one execution context. It holds the globals, the const
// set, the namespace registry, the shared object arena, and both stacks.
// Nothing is process-global, so two VMs on two goroutines are safe as long
// as neither is mutated across goroutines.
package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/xenlang/xen/pkg/bytecode"
	"github.com/xenlang/xen/pkg/stdlib"
	"github.com/xenlang/xen/pkg/value"
)

// Stack geometry. The compiler guarantees well-formed programs never need
// more than FrameSlots values per frame; recursion deeper than FramesMax is
// a runtime "stack overflow" error.
const (
	FramesMax  = 64
	FrameSlots = 256
	StackMax   = FramesMax * FrameSlots
)

// callFrame is one activation record: the function being executed, its
// instruction pointer, and the index into the value stack where its slot 0
// lives.
type callFrame struct {
	function *value.Function
	ip       int
	slots    int
}

// VM is the virtual machine. Reusable: Run may be called repeatedly on the
// same VM (the REPL does), with globals, const markers, and interned strings
// persisting across runs.
type VM struct {
	arena *value.Arena

	stack [StackMax]value.Value
	top   int

	frames     [FramesMax]callFrame
	frameCount int

	globals      *value.Table
	constGlobals map[string]bool
	namespaces   map[string]*value.Namespace

	stringMethods  []builtinMethod
	arrayMethods   []builtinMethod
	dictMethods    []builtinMethod
	numberMethods  []builtinMethod
	errorMethods   []builtinMethod
	u8arrayMethods []builtinMethod

	stdout io.Writer
	stdin  io.Reader

	debugger *Debugger
}

// Option configures a VM at construction.
type Option func(*VM)

// WithStdout redirects native print output (io.println and friends).
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// WithStdin redirects native line input (io.readln).
func WithStdin(r io.Reader) Option {
	return func(vm *VM) { vm.stdin = r }
}

// New creates a VM with the standard-library namespaces registered and the
// built-in type method tables and predefined globals installed.
func New(opts ...Option) *VM {
	vm := &VM{
		arena:        value.NewArena(),
		globals:      value.NewTable(),
		constGlobals: make(map[string]bool),
		stdout:       os.Stdout,
		stdin:        os.Stdin,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.namespaces = stdlib.All(vm.arena, vm.stdout, vm.stdin)
	vm.installMethodTables()
	vm.defineBuiltinGlobals()
	return vm
}

// Arena returns the VM's object arena. The compiler shares it so constants
// interned at compile time are the same objects the VM compares at run time.
func (vm *VM) Arena() *value.Arena { return vm.arena }

// Shutdown releases every object the VM's arena tracked during its runs.
func (vm *VM) Shutdown() {
	vm.top = 0
	vm.frameCount = 0
	vm.globals = value.NewTable()
	vm.arena.Release()
}

// MarkConst records global names the compiler declared const, so SET_GLOBAL
// can reject writes to them.
func (vm *VM) MarkConst(names map[string]bool) {
	for name := range names {
		vm.constGlobals[name] = true
	}
}

// defineBuiltinGlobals predefines the Error constructor, the typeof/typeid
// natives, and a type-id global for each built-in type name so `is T` can
// resolve T by ordinary global lookup.
func (vm *VM) defineBuiltinGlobals() {
	vm.defineNative("Error", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Null, fmt.Errorf("Error() takes 1 argument, got %d", len(args))
		}
		return value.Object(vm.arena.NewError(args[0].String())), nil
	})
	vm.defineNative("typeof", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Null, fmt.Errorf("typeof() takes 1 argument, got %d", len(args))
		}
		return value.Object(vm.arena.InternString(value.TypeName(args[0]))), nil
	})
	vm.defineNative("typeid", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Null, fmt.Errorf("typeid() takes 1 argument, got %d", len(args))
		}
		return value.Number(float64(value.TypeID(args[0]))), nil
	})

	for name, id := range builtinTypeIDs {
		if name == "Error" {
			continue // Error is the constructor native above
		}
		vm.globals.Set(name, value.Number(float64(id)))
		vm.constGlobals[name] = true
	}

	// io is always available; the other namespaces bind via `include`.
	vm.globals.Set("io", value.Object(vm.namespaces["io"]))
}

// builtinTypeIDs binds each built-in type name to its stable id for the
// `is` and `as` operators.
var builtinTypeIDs = map[string]int{
	"Bool":     value.TypeBool,
	"Null":     value.TypeNull,
	"Number":   value.TypeNumber,
	"String":   value.TypeString,
	"Function": value.TypeFunction,
	"Array":    value.TypeArray,
	"Dict":     value.TypeDict,
	"U8Array":  value.TypeU8Array,
	"Error":    value.TypeError,
}

func (vm *VM) defineNative(name string, fn value.NativeFn) {
	vm.globals.Set(name, value.Object(vm.arena.NewNativeFunction(name, fn)))
}

// ---- stack primitives ----

func (vm *VM) push(v value.Value) error {
	if vm.top >= StackMax {
		return &FatalError{Code: ExitOverCapacity, Message: "value stack overflow"}
	}
	vm.stack[vm.top] = v
	vm.top++
	return nil
}

func (vm *VM) pop() value.Value {
	vm.top--
	return vm.stack[vm.top]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.top-1-distance]
}

// ---- error plumbing ----

// runtimeError builds a RuntimeError with the current call stack, then
// unwinds both stacks so the VM can accept a new program.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	trace := make([]StackFrame, 0, vm.frameCount)
	for i := 0; i < vm.frameCount; i++ {
		frame := &vm.frames[i]
		name := frame.function.Name
		if name == "" {
			name = "script"
		}
		trace = append(trace, StackFrame{Name: name, Line: frame.function.Chunk.LineAt(frame.ip - 1)})
	}
	vm.top = 0
	vm.frameCount = 0
	return &RuntimeError{Message: fmt.Sprintf(format, args...), StackTrace: trace}
}

// ---- execution ----

// Run executes a compiled top-level function to completion. On a runtime
// error both stacks are reset and the error is returned; the VM remains
// usable for another Run.
func (vm *VM) Run(fn *value.Function) error {
	if err := vm.push(value.Object(fn)); err != nil {
		return err
	}
	if err := vm.callFunction(fn, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) callFunction(fn *value.Function, argc int) error {
	if argc != fn.Arity {
		return vm.runtimeError("expected %d arguments but got %d", fn.Arity, argc)
	}
	if vm.frameCount >= FramesMax {
		return vm.runtimeError("stack overflow")
	}
	vm.frames[vm.frameCount] = callFrame{function: fn, slots: vm.top - argc - 1}
	vm.frameCount++
	return nil
}

// callNative invokes a native with argc arguments. withReceiver widens the
// argument window one slot down so args[0] is the receiver sitting in the
// callee position.
func (vm *VM) callNative(native *value.NativeFunction, argc int, withReceiver bool) error {
	base := vm.top - argc
	if withReceiver {
		base--
	}
	args := make([]value.Value, vm.top-base)
	copy(args, vm.stack[base:vm.top])

	result, err := native.Fn(args)
	if err != nil {
		return vm.runtimeError("%s", err.Error())
	}
	vm.top -= argc + 1
	return vm.push(result)
}

// callValue dispatches CALL on whatever sits in the callee slot.
func (vm *VM) callValue(callee value.Value, argc int) error {
	if callee.IsObject() {
		switch obj := callee.AsObject().(type) {
		case *value.Function:
			return vm.callFunction(obj, argc)
		case *value.NativeFunction:
			return vm.callNative(obj, argc, false)
		case *value.BoundMethod:
			vm.stack[vm.top-argc-1] = obj.Receiver
			switch callable := obj.Callable.(type) {
			case *value.Function:
				return vm.callFunction(callable, argc)
			case *value.NativeFunction:
				return vm.callNative(callable, argc, true)
			}
		}
	}
	return vm.runtimeError("can only call functions and methods")
}

// instantiate handles CALL_INIT: replace the class in the callee slot with a
// fresh instance, then run whichever initializer the class has.
func (vm *VM) instantiate(argc int) error {
	callee := vm.peek(argc)
	if !callee.IsObject() {
		return vm.runtimeError("can only instantiate classes")
	}
	class, ok := callee.AsObject().(*value.Class)
	if !ok {
		return vm.runtimeError("can only instantiate classes")
	}

	instance := vm.arena.NewInstance(class)
	vm.stack[vm.top-argc-1] = value.Object(instance)

	switch {
	case class.NativeInitializer != nil:
		args := make([]value.Value, argc+1)
		copy(args, vm.stack[vm.top-argc-1:vm.top])
		if _, err := class.NativeInitializer(args); err != nil {
			return vm.runtimeError("%s", err.Error())
		}
		vm.top -= argc // pop args, leave the instance
		return nil
	case class.Initializer != nil:
		return vm.callFunction(class.Initializer, argc)
	default:
		if argc != 0 {
			return vm.runtimeError("expected 0 arguments but got %d", argc)
		}
		return nil
	}
}

// run is the fetch-decode-execute loop.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readUint16 := func() uint16 {
		v := frame.function.Chunk.ReadUint16(frame.ip)
		frame.ip += 2
		return v
	}
	readConstant := func() value.Value {
		return frame.function.Chunk.Constants[readByte()]
	}
	readString := func() string {
		return readConstant().AsObject().(*value.String).Value
	}

	for {
		if vm.debugger != nil && vm.debugger.ShouldPause(frame.ip) {
			if !vm.debugger.InteractivePrompt(frame.function.Chunk, frame.ip) {
				vm.top = 0
				vm.frameCount = 0
				return fmt.Errorf("debugging session terminated")
			}
		}

		op := bytecode.Opcode(readByte())
		switch op {

		case bytecode.OpConstant:
			if err := vm.push(readConstant()); err != nil {
				return err
			}

		case bytecode.OpNull:
			if err := vm.push(value.Null); err != nil {
				return err
			}
		case bytecode.OpTrue:
			if err := vm.push(value.Bool(true)); err != nil {
				return err
			}
		case bytecode.OpFalse:
			if err := vm.push(value.Bool(false)); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.stack[vm.top-1] = value.Bool(!vm.stack[vm.top-1].Truthy())

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand must be a number")
			}
			vm.stack[vm.top-1] = value.Number(-vm.stack[vm.top-1].AsNumber())

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			if err := vm.push(value.Bool(value.Equal(a, b))); err != nil {
				return err
			}

		case bytecode.OpGreater, bytecode.OpLess,
			bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide, bytecode.OpMod:
			if err := vm.binaryNumericOp(op); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpDup:
			if err := vm.push(vm.peek(0)); err != nil {
				return err
			}

		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.pop())

		case bytecode.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("undefined variable '%s'", name)
			}
			if err := vm.push(v); err != nil {
				return err
			}

		case bytecode.OpSetGlobal:
			name := readString()
			if vm.constGlobals[name] {
				return vm.runtimeError("cannot assign to const '%s'", name)
			}
			if !vm.globals.Has(name) {
				return vm.runtimeError("undefined variable '%s'", name)
			}
			vm.globals.Set(name, vm.peek(0))

		case bytecode.OpGetLocal:
			slot := readByte()
			if err := vm.push(vm.stack[frame.slots+int(slot)]); err != nil {
				return err
			}

		case bytecode.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slots+int(slot)] = vm.peek(0)

		case bytecode.OpJump:
			offset := readUint16()
			frame.ip += int(offset)

		case bytecode.OpJumpIfFalse:
			offset := readUint16()
			if !vm.peek(0).Truthy() {
				frame.ip += int(offset)
			}

		case bytecode.OpLoop:
			offset := readUint16()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpCallInit:
			argc := int(readByte())
			if err := vm.instantiate(argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			name := readString()
			argc := int(readByte())
			if err := vm.invoke(name, argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpGetProperty:
			name := readString()
			if err := vm.getProperty(name); err != nil {
				return err
			}

		case bytecode.OpSetProperty:
			name := readString()
			if err := vm.setProperty(name); err != nil {
				return err
			}

		case bytecode.OpIndexGet:
			if err := vm.indexGet(); err != nil {
				return err
			}

		case bytecode.OpIndexSet:
			if err := vm.indexSet(); err != nil {
				return err
			}

		case bytecode.OpArrayNew:
			count := int(readByte())
			elements := make([]value.Value, count)
			copy(elements, vm.stack[vm.top-count:vm.top])
			vm.top -= count
			if err := vm.push(value.Object(vm.arena.NewArray(elements))); err != nil {
				return err
			}

		case bytecode.OpArrayLen:
			v := vm.pop()
			n, err := vm.lengthOf(v)
			if err != nil {
				return err
			}
			if err := vm.push(value.Number(float64(n))); err != nil {
				return err
			}

		case bytecode.OpDictNew:
			if err := vm.push(value.Object(vm.arena.NewDict())); err != nil {
				return err
			}

		case bytecode.OpDictAdd:
			val := vm.pop()
			key := vm.pop()
			dict := vm.peek(0).AsObject().(*value.Dict)
			ks, ok := asString(key)
			if !ok {
				return vm.runtimeError("dict keys must be strings")
			}
			dict.Table.Set(ks, val)

		case bytecode.OpClass:
			name := readString()
			if err := vm.push(value.Object(vm.arena.NewClass(name))); err != nil {
				return err
			}

		case bytecode.OpProperty:
			name := readString()
			private := readByte() != 0
			def := vm.pop()
			class := vm.peek(0).AsObject().(*value.Class)
			class.Properties = append(class.Properties, value.PropertyDef{
				Name: name, Default: def, Private: private, Index: len(class.Properties),
			})

		case bytecode.OpMethod:
			name := readString()
			private := readByte() != 0
			method := vm.pop().AsObject()
			class := vm.peek(0).AsObject().(*value.Class)
			entry := value.MethodEntry{Name: name, Callable: method}
			if private {
				class.PrivateMethods = append(class.PrivateMethods, entry)
			} else {
				class.PublicMethods = append(class.PublicMethods, entry)
			}

		case bytecode.OpInitializer:
			init := vm.pop().AsObject().(*value.Function)
			class := vm.peek(0).AsObject().(*value.Class)
			class.Initializer = init

		case bytecode.OpInclude:
			name := readString()
			ns, ok := vm.namespaces[name]
			if !ok {
				return vm.runtimeError("unknown namespace '%s'", name)
			}
			vm.globals.Set(name, value.Object(ns))

		case bytecode.OpIsType:
			name := readString()
			v := vm.pop()
			matched, err := vm.typeMatches(v, name)
			if err != nil {
				return err
			}
			if err := vm.push(value.Bool(matched)); err != nil {
				return err
			}

		case bytecode.OpCast:
			name := readString()
			v := vm.pop()
			casted, err := vm.cast(v, name)
			if err != nil {
				return err
			}
			if err := vm.push(casted); err != nil {
				return err
			}

		case bytecode.OpReturn:
			result := vm.pop()
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop() // the script function itself
				return nil
			}
			vm.top = frame.slots
			if err := vm.push(result); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		default:
			return vm.runtimeError("unknown opcode %d", op)
		}
	}
}

// binaryNumericOp handles every two-number opcode. ADD is separate because
// it also concatenates strings.
func (vm *VM) binaryNumericOp(op bytecode.Opcode) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("operands must be numbers")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()

	var result value.Value
	switch op {
	case bytecode.OpGreater:
		result = value.Bool(a > b)
	case bytecode.OpLess:
		result = value.Bool(a < b)
	case bytecode.OpSubtract:
		result = value.Number(a - b)
	case bytecode.OpMultiply:
		result = value.Number(a * b)
	case bytecode.OpDivide:
		result = value.Number(a / b)
	case bytecode.OpMod:
		result = value.Number(math.Mod(a, b))
	}
	return vm.push(result)
}

// add is the one opcode with dynamic operand dispatch: two numbers add, two
// strings concatenate (the result is interned).
func (vm *VM) add() error {
	if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		return vm.push(value.Number(a + b))
	}
	bs, bok := asString(vm.peek(0))
	as, aok := asString(vm.peek(1))
	if aok && bok {
		vm.pop()
		vm.pop()
		return vm.push(value.Object(vm.arena.InternString(as + bs)))
	}
	return vm.runtimeError("operands must be two numbers or two strings")
}

// invoke is the fused get-and-call: resolve name on the receiver sitting
// argc slots down, then call it with the receiver occupying the callee slot.
func (vm *VM) invoke(name string, argc int) error {
	receiver := vm.peek(argc)

	if receiver.IsObject() {
		switch obj := receiver.AsObject().(type) {
		case *value.Instance:
			return vm.invokeOnInstance(obj, name, argc)
		case *value.Namespace:
			entry, ok := obj.Get(name)
			if !ok {
				return vm.runtimeError("undefined property '%s'", name)
			}
			vm.stack[vm.top-argc-1] = entry
			return vm.callValue(entry, argc)
		}
	}

	if m, ok := vm.builtinMethod(receiver, name); ok {
		return vm.callNative(m.fn, argc, true)
	}
	return vm.runtimeError("undefined property '%s'", name)
}

func (vm *VM) invokeOnInstance(instance *value.Instance, name string, argc int) error {
	// A field holding a callable shadows methods of the same name.
	if prop, ok := instance.Class.FindProperty(name); ok {
		if prop.Private && !vm.inClassContext(instance.Class) {
			return vm.runtimeError("cannot access private property '%s'", name)
		}
		field := instance.Fields[prop.Index]
		vm.stack[vm.top-argc-1] = field
		return vm.callValue(field, argc)
	}

	entry, private, ok := instance.Class.FindMethod(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name)
	}
	if private && !vm.inClassContext(instance.Class) {
		return vm.runtimeError("cannot access private method '%s'", name)
	}
	switch callable := entry.Callable.(type) {
	case *value.Function:
		return vm.callFunction(callable, argc)
	case *value.NativeFunction:
		return vm.callNative(callable, argc, true)
	}
	return vm.runtimeError("undefined property '%s'", name)
}

// inClassContext reports whether the current frame's slot 0 holds an
// Instance whose class is identical to declaring. This is the entire privacy
// rule: private members are reachable only from methods of the same class.
func (vm *VM) inClassContext(declaring *value.Class) bool {
	if vm.frameCount == 0 {
		return false
	}
	frame := &vm.frames[vm.frameCount-1]
	slot0 := vm.stack[frame.slots]
	if !slot0.IsObject() {
		return false
	}
	instance, ok := slot0.AsObject().(*value.Instance)
	return ok && instance.Class == declaring
}

// getProperty resolves `receiver.name` for GET_PROPERTY: instance fields and
// methods first, then namespace entries, then the built-in type method
// tables.
func (vm *VM) getProperty(name string) error {
	receiver := vm.peek(0)

	if receiver.IsObject() {
		switch obj := receiver.AsObject().(type) {
		case *value.Instance:
			if prop, ok := obj.Class.FindProperty(name); ok {
				if prop.Private && !vm.inClassContext(obj.Class) {
					return vm.runtimeError("cannot access private property '%s'", name)
				}
				vm.pop()
				return vm.push(obj.Fields[prop.Index])
			}
			if entry, private, ok := obj.Class.FindMethod(name); ok {
				if private && !vm.inClassContext(obj.Class) {
					return vm.runtimeError("cannot access private method '%s'", name)
				}
				bound := vm.arena.NewBoundMethod(receiver, entry.Callable, name)
				vm.pop()
				return vm.push(value.Object(bound))
			}
			return vm.runtimeError("undefined property '%s'", name)

		case *value.Namespace:
			entry, ok := obj.Get(name)
			if !ok {
				return vm.runtimeError("undefined property '%s'", name)
			}
			vm.pop()
			return vm.push(entry)
		}
	}

	if m, ok := vm.builtinMethod(receiver, name); ok {
		if m.isProperty {
			// Property-style entries run immediately with the receiver as
			// the sole argument.
			result, err := m.fn.Fn([]value.Value{receiver})
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.pop()
			return vm.push(result)
		}
		bound := vm.arena.NewBoundMethod(receiver, m.fn, name)
		vm.pop()
		return vm.push(value.Object(bound))
	}
	return vm.runtimeError("undefined property '%s'", name)
}

// setProperty resolves `receiver.name = value` for SET_PROPERTY. Only
// instances have settable properties.
func (vm *VM) setProperty(name string) error {
	receiver := vm.peek(1)
	if receiver.IsObject() {
		if instance, ok := receiver.AsObject().(*value.Instance); ok {
			prop, ok := instance.Class.FindProperty(name)
			if !ok {
				return vm.runtimeError("undefined property '%s'", name)
			}
			if prop.Private && !vm.inClassContext(instance.Class) {
				return vm.runtimeError("cannot access private property '%s'", name)
			}
			val := vm.pop()
			vm.pop()
			instance.Fields[prop.Index] = val
			return vm.push(val)
		}
	}
	return vm.runtimeError("cannot set property '%s' on %s", name, value.TypeName(receiver))
}

// indexGet handles `recv[idx]` for arrays, dicts, strings, and u8arrays.
func (vm *VM) indexGet() error {
	idx := vm.pop()
	recv := vm.pop()

	if recv.IsObject() {
		switch obj := recv.AsObject().(type) {
		case *value.Array:
			i, err := vm.checkIndex(idx, len(obj.Elements))
			if err != nil {
				return err
			}
			return vm.push(obj.Elements[i])
		case *value.Dict:
			key, ok := asString(idx)
			if !ok {
				return vm.runtimeError("dict keys must be strings")
			}
			v, found := obj.Table.Get(key)
			if !found {
				return vm.push(value.Null)
			}
			return vm.push(v)
		case *value.String:
			i, err := vm.checkIndex(idx, len(obj.Value))
			if err != nil {
				return err
			}
			return vm.push(value.Object(vm.arena.InternString(obj.Value[i : i+1])))
		case *value.U8Array:
			i, err := vm.checkIndex(idx, len(obj.Bytes))
			if err != nil {
				return err
			}
			return vm.push(value.Number(float64(obj.Bytes[i])))
		}
	}
	return vm.runtimeError("%s is not indexable", value.TypeName(recv))
}

// indexSet handles `recv[idx] = val` for arrays, dicts, and u8arrays.
// Strings are immutable.
func (vm *VM) indexSet() error {
	val := vm.pop()
	idx := vm.pop()
	recv := vm.pop()

	if recv.IsObject() {
		switch obj := recv.AsObject().(type) {
		case *value.Array:
			i, err := vm.checkIndex(idx, len(obj.Elements))
			if err != nil {
				return err
			}
			obj.Elements[i] = val
			return vm.push(val)
		case *value.Dict:
			key, ok := asString(idx)
			if !ok {
				return vm.runtimeError("dict keys must be strings")
			}
			obj.Table.Set(key, val)
			return vm.push(val)
		case *value.U8Array:
			i, err := vm.checkIndex(idx, len(obj.Bytes))
			if err != nil {
				return err
			}
			if !val.IsNumber() {
				return vm.runtimeError("u8array elements must be numbers")
			}
			obj.Bytes[i] = byte(int64(val.AsNumber()))
			return vm.push(val)
		}
	}
	return vm.runtimeError("%s is not index-assignable", value.TypeName(recv))
}

func (vm *VM) checkIndex(idx value.Value, length int) (int, error) {
	if !idx.IsNumber() {
		return 0, vm.runtimeError("index must be a number")
	}
	i := int(idx.AsNumber())
	if i < 0 || i >= length {
		return 0, vm.runtimeError("index %d out of bounds for length %d", i, length)
	}
	return i, nil
}

func (vm *VM) lengthOf(v value.Value) (int, error) {
	if v.IsObject() {
		switch obj := v.AsObject().(type) {
		case *value.Array:
			return len(obj.Elements), nil
		case *value.U8Array:
			return len(obj.Bytes), nil
		case *value.String:
			return len(obj.Value), nil
		}
	}
	return 0, vm.runtimeError("%s has no length", value.TypeName(v))
}

// typeMatches implements `v is T`. T resolves by ordinary global lookup: a
// number global is a built-in type id, a class global matches its instances.
func (vm *VM) typeMatches(v value.Value, typeName string) (bool, error) {
	target, ok := vm.globals.Get(typeName)
	if !ok {
		return false, vm.runtimeError("undefined variable '%s'", typeName)
	}
	switch {
	case target.IsNumber():
		return value.TypeID(v) == int(target.AsNumber()), nil
	case target.IsObject():
		if class, ok := target.AsObject().(*value.Class); ok {
			if v.IsObject() {
				if instance, ok := v.AsObject().(*value.Instance); ok {
					return instance.Class == class, nil
				}
			}
			return false, nil
		}
		if native, ok := target.AsObject().(*value.NativeFunction); ok && native.Name == "Error" {
			return value.TypeID(v) == value.TypeError, nil
		}
	}
	return false, vm.runtimeError("'%s' is not a type", typeName)
}

// cast implements `v as T` via the matching type constructor.
func (vm *VM) cast(v value.Value, typeName string) (value.Value, error) {
	target, ok := vm.globals.Get(typeName)
	if !ok {
		return value.Null, vm.runtimeError("undefined variable '%s'", typeName)
	}
	if !target.IsNumber() {
		return value.Null, vm.runtimeError("cannot cast %s to %s", value.TypeName(v), typeName)
	}

	switch int(target.AsNumber()) {
	case value.TypeNumber:
		switch {
		case v.IsNumber():
			return v, nil
		case v.IsBool():
			if v.AsBool() {
				return value.Number(1), nil
			}
			return value.Number(0), nil
		case v.IsObject():
			if s, ok := v.AsObject().(*value.String); ok {
				n, err := strconv.ParseFloat(s.Value, 64)
				if err == nil {
					return value.Number(n), nil
				}
			}
		}
	case value.TypeString:
		return value.Object(vm.arena.InternString(v.String())), nil
	case value.TypeBool:
		return value.Bool(v.Truthy()), nil
	}
	return value.Null, vm.runtimeError("cannot cast %s to %s", value.TypeName(v), typeName)
}

func asString(v value.Value) (string, bool) {
	if !v.IsObject() {
		return "", false
	}
	s, ok := v.AsObject().(*value.String)
	if !ok {
		return "", false
	}
	return s.Value, true
}
