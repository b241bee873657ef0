package value

// Arena owns every heap Obj created during one VM run. Xen has no garbage
// collector: objects are linked into a single
// intrusive "all objects" chain as they're allocated and the whole chain is
// dropped at once when the run ends. Nothing is reclaimed mid-run.
type Arena struct {
	head    Obj
	strings *Table
}

// NewArena returns an empty arena ready to track one VM run's objects.
func NewArena() *Arena {
	return &Arena{strings: NewTable()}
}

// track links o into the arena's intrusive chain and returns it.
func (a *Arena) track(o Obj) Obj {
	o.setNext(a.head)
	a.head = o
	return o
}

// Release drops the arena's entire object chain, making every object it
// tracked eligible for Go's own garbage collector. This is the only
// "collection" Xen performs.
func (a *Arena) Release() {
	a.head = nil
	a.strings = NewTable()
}

// InternString returns the canonical *String for s, allocating and tracking
// a new one only the first time s's content is seen. Every subsequent
// String with equal (length, hash, bytes) collapses to the same pointer,
// satisfying the interning invariant.
func (a *Arena) InternString(s string) *String {
	if existing, ok := a.strings.Get(s); ok {
		return existing.AsObject().(*String)
	}
	str := &String{Value: s, Hash: FNV1a32(s)}
	a.track(str)
	a.strings.Set(s, Object(str))
	return str
}

// NewFunction allocates and tracks a Function object.
func (a *Arena) NewFunction(name string, arity int, chunk *Chunk) *Function {
	f := &Function{Name: name, Arity: arity, Chunk: chunk}
	a.track(f)
	return f
}

// NewNativeFunction allocates and tracks a NativeFunction object.
func (a *Arena) NewNativeFunction(name string, fn NativeFn) *NativeFunction {
	n := &NativeFunction{Name: name, Fn: fn}
	a.track(n)
	return n
}

// NewNamespace allocates and tracks a Namespace object.
func (a *Arena) NewNamespace(name string) *Namespace {
	n := &Namespace{Name: name}
	a.track(n)
	return n
}

// NewArray allocates and tracks an Array object.
func (a *Arena) NewArray(elements []Value) *Array {
	arr := &Array{Elements: elements}
	a.track(arr)
	return arr
}

// NewBoundMethod allocates and tracks a BoundMethod object.
func (a *Arena) NewBoundMethod(receiver Value, callable Obj, name string) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Callable: callable, Name: name}
	a.track(b)
	return b
}

// NewDict allocates and tracks a Dict object.
func (a *Arena) NewDict() *Dict {
	d := &Dict{Table: NewTable()}
	a.track(d)
	return d
}

// NewClass allocates and tracks a Class object.
func (a *Arena) NewClass(name string) *Class {
	c := &Class{Name: name}
	a.track(c)
	return c
}

// NewInstance allocates and tracks an Instance of class c.
func (a *Arena) NewInstance(c *Class) *Instance {
	inst := NewInstance(c)
	a.track(inst)
	return inst
}

// NewU8Array allocates and tracks a U8Array object.
func (a *Arena) NewU8Array(bytes []byte) *U8Array {
	u := &U8Array{Bytes: bytes}
	a.track(u)
	return u
}

// NewError allocates and tracks an Error object.
func (a *Arena) NewError(message string) *Error {
	e := &Error{Message: message}
	a.track(e)
	return e
}

// Walk calls fn for every object currently tracked by the arena, in
// most-recently-allocated-first order (the order of the intrusive chain).
func (a *Arena) Walk(fn func(Obj)) {
	for o := a.head; o != nil; o = o.next() {
		fn(o)
	}
}
