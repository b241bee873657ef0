package value

import (
	"fmt"
	"strings"
)

// Obj is the common interface implemented by every heap object kind:
// String, Function, NativeFunction, Namespace, Array, BoundMethod, Dict,
// Class, Instance, U8Array, Error.
//
// Every Obj is linked into exactly one Arena's intrusive "all objects" chain
// via the unexported next/setNext pair, which
// objHeader provides to every concrete type that embeds it.
type Obj interface {
	TypeName() string
	String() string
	typeID() int
	next() Obj
	setNext(Obj)
}

// objHeader is embedded in every concrete Obj to provide the intrusive
// chain link without each kind re-implementing it.
type objHeader struct {
	nextObj Obj
}

func (h *objHeader) next() Obj       { return h.nextObj }
func (h *objHeader) setNext(o Obj)   { h.nextObj = o }

// String is an interned, immutable byte sequence with a precomputed FNV-1a
// hash. Strings are deduplicated by the Arena's intern table: two Strings
// with equal (length, hash, bytes) collapse to the same *String.
type String struct {
	objHeader
	Value string
	Hash  uint32
}

func (s *String) TypeName() string { return "String" }
func (s *String) String() string   { return s.Value }
func (s *String) typeID() int      { return TypeString }

// FNV1a32 computes the 32-bit FNV-1a hash used to key interned strings and
// the string hash table.
func FNV1a32(s string) uint32 {
	const (
		offsetBasis = 2166136261
		prime       = 16777619
	)
	h := uint32(offsetBasis)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Function is a compiled, callable unit of bytecode: a top-level script or
// a named/anonymous function body. Arity is the declared parameter count;
// Chunk holds its bytecode, line table, and constant pool.
type Function struct {
	objHeader
	Name  string // "" for the implicit top-level script function
	Arity int
	Chunk *Chunk
}

func (f *Function) TypeName() string { return "Function" }
func (f *Function) typeID() int      { return TypeFunction }
func (f *Function) String() string {
	if f.Name == "" {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name)
}

// NativeFn is the ABI every native (Go-implemented) function and method
// satisfies: it receives the already-evaluated argument slice (args[0] is
// the receiver for method-style dispatch) and returns a result or an error.
// A non-nil error is surfaced through the VM.s runtime-error channel.
type NativeFn func(args []Value) (Value, error)

// NativeFunction wraps a Go-implemented function so it can be stored,
// passed, and invoked like any other Xen value.
type NativeFunction struct {
	objHeader
	Name string
	Fn   NativeFn
}

func (n *NativeFunction) TypeName() string { return "NativeFunction" }
func (n *NativeFunction) typeID() int      { return TypeNativeFunc }
func (n *NativeFunction) String() string   { return fmt.Sprintf("<native fn %s>", n.Name) }

// NamespaceEntry is one (name, value) binding exposed by a Namespace.
type NamespaceEntry struct {
	Name  string
	Value Value
}

// Namespace is an ordered list of (name, Value) entries used to expose
// built-in functions and classes by dotted access (`math.sqrt`).
type Namespace struct {
	objHeader
	Name    string
	Entries []NamespaceEntry
}

func (n *Namespace) TypeName() string { return "Namespace" }
func (n *Namespace) typeID() int      { return TypeNamespace }
func (n *Namespace) String() string   { return fmt.Sprintf("<namespace %s>", n.Name) }

// Get looks up an entry by name, returning (value, true) if found.
func (n *Namespace) Get(name string) (Value, bool) {
	for _, e := range n.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Bind appends or overwrites an entry in the namespace.
func (n *Namespace) Bind(name string, v Value) {
	for i := range n.Entries {
		if n.Entries[i].Name == name {
			n.Entries[i].Value = v
			return
		}
	}
	n.Entries = append(n.Entries, NamespaceEntry{Name: name, Value: v})
}

// Array is a growable, doubling-capacity Value sequence.
type Array struct {
	objHeader
	Elements []Value
}

func (a *Array) TypeName() string { return "Array" }
func (a *Array) typeID() int      { return TypeArray }
func (a *Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range a.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		if s, ok := v.AsObject().(*String); ok && v.IsObject() {
			b.WriteByte('\'')
			b.WriteString(s.Value)
			b.WriteByte('\'')
		} else {
			b.WriteString(v.String())
		}
	}
	b.WriteByte(']')
	return b.String()
}

// Push appends v, doubling capacity as needed (capacity growth is implicit
// in Go's append; Elements' cap still doubles geometrically).
func (a *Array) Push(v Value) { a.Elements = append(a.Elements, v) }

// Pop removes and returns the last element. ok is false on an empty array.
func (a *Array) Pop() (Value, bool) {
	if len(a.Elements) == 0 {
		return Value{}, false
	}
	last := a.Elements[len(a.Elements)-1]
	a.Elements = a.Elements[:len(a.Elements)-1]
	return last, true
}

// BoundMethod pairs a receiver with the callable (bytecode Function or
// NativeFunction) resolved from a property/method lookup.
type BoundMethod struct {
	objHeader
	Receiver Value
	Callable Obj // *Function or *NativeFunction
	Name     string
}

func (b *BoundMethod) TypeName() string { return "BoundMethod" }
func (b *BoundMethod) typeID() int      { return TypeBoundMethod }
func (b *BoundMethod) String() string   { return fmt.Sprintf("<bound method %s>", b.Name) }

// Dict wraps a string-keyed hash Table. Non-string keys are a runtime error
// at the call site (vm.indexSet/indexGet), not representable here.
type Dict struct {
	objHeader
	Table *Table
}

func (d *Dict) TypeName() string { return "Dict" }
func (d *Dict) typeID() int      { return TypeDict }
func (d *Dict) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	d.Table.Each(func(k string, v Value) bool {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %s", k, v.String())
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// PropertyDef describes one declared property (field) of a Class: its name,
// default-value expression result, privacy, and dense field-array index.
type PropertyDef struct {
	Name    string
	Default Value
	Private bool
	Index   int
}

// MethodEntry pairs a method name with its callable.
type MethodEntry struct {
	Name     string
	Callable Obj // *Function or *NativeFunction
}

// Class is Xen's single-level (no subclassing) class object: an ordered
// list of property definitions plus separate public/private method tables,
// and an optional initializer (bytecode or native).
type Class struct {
	objHeader
	Name              string
	Properties        []PropertyDef
	PublicMethods     []MethodEntry
	PrivateMethods    []MethodEntry
	Initializer       *Function    // bytecode init(...), nil if none
	NativeInitializer NativeFn     // native initializer, nil if none
}

func (c *Class) TypeName() string { return "Class" }
func (c *Class) typeID() int      { return TypeClass }
func (c *Class) String() string   { return fmt.Sprintf("<class %s>", c.Name) }

// PropertyCount returns the number of declared properties, which every
// Instance of this class allocates a field slot for.
func (c *Class) PropertyCount() int { return len(c.Properties) }

// FindProperty returns the property definition with the given name.
func (c *Class) FindProperty(name string) (PropertyDef, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// FindMethod looks a method up in the public table, then the private one,
// returning which table it was found in.
func (c *Class) FindMethod(name string) (entry MethodEntry, private bool, ok bool) {
	for _, m := range c.PublicMethods {
		if m.Name == name {
			return m, false, true
		}
	}
	for _, m := range c.PrivateMethods {
		if m.Name == name {
			return m, true, true
		}
	}
	return MethodEntry{}, false, false
}

// Instance is a single allocation of a Class: a densely indexed field array
// sized to the class's property count and initialized from the class's
// property defaults on creation; len(Instance.Fields) is always
// Class.PropertyCount().
type Instance struct {
	objHeader
	Class  *Class
	Fields []Value
}

func (i *Instance) TypeName() string { return "Instance" }
func (i *Instance) typeID() int      { return TypeInstance }
func (i *Instance) String() string   { return fmt.Sprintf("<instance of %s>", i.Class.Name) }

// NewInstance allocates an Instance of class c with fields initialized from
// the class's property defaults.
func NewInstance(c *Class) *Instance {
	fields := make([]Value, len(c.Properties))
	for idx, p := range c.Properties {
		fields[idx] = p.Default
	}
	return &Instance{Class: c, Fields: fields}
}

// U8Array is a raw byte buffer, used for binary data (network reads,
// file contents) that shouldn't be treated as UTF-8 text.
type U8Array struct {
	objHeader
	Bytes []byte
}

func (u *U8Array) TypeName() string { return "U8Array" }
func (u *U8Array) typeID() int      { return TypeU8Array }
func (u *U8Array) String() string   { return fmt.Sprintf("<u8array len=%d>", len(u.Bytes)) }

// Error is a first-class error value constructed via `Error(msg)`, exposing
// a `.msg` accessor.
type Error struct {
	objHeader
	Message string
}

func (e *Error) TypeName() string { return "Error" }
func (e *Error) typeID() int      { return TypeError }
func (e *Error) String() string   { return fmt.Sprintf("Error: %s", e.Message) }
