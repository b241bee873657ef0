package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenlang/xen/pkg/compiler"
)

// run compiles and executes source on a fresh VM, returning stdout.
func run(t *testing.T, source string) string {
	t.Helper()
	var out bytes.Buffer
	machine := New(WithStdout(&out))
	defer machine.Shutdown()

	c := compiler.New(source, machine.Arena())
	fn, err := c.Compile()
	require.NoError(t, err)
	machine.MarkConst(c.ConstGlobals())
	require.NoError(t, machine.Run(fn))
	return out.String()
}

// runErr compiles and executes source, requiring a runtime error.
func runErr(t *testing.T, source string) *RuntimeError {
	t.Helper()
	var out bytes.Buffer
	machine := New(WithStdout(&out))
	defer machine.Shutdown()

	c := compiler.New(source, machine.Arena())
	fn, err := c.Compile()
	require.NoError(t, err)
	machine.MarkConst(c.ConstGlobals())
	err = machine.Run(fn)
	require.Error(t, err)
	var rt *RuntimeError
	require.ErrorAs(t, err, &rt)
	return rt
}

func TestRecursion(t *testing.T) {
	out := run(t, `
fn fib(n) { if (n < 2) return n; return fib(n-1) + fib(n-2); }
io.println(fib(10));`)
	assert.Equal(t, "55\n", out)
}

func TestRangeIterationWithMutation(t *testing.T) {
	out := run(t, `var sum = 0; for (var i in 0..5) { sum += i; } io.println(sum);`)
	assert.Equal(t, "10\n", out)
}

func TestArrayForIn(t *testing.T) {
	out := run(t, `
var xs = [10, 20, 30]; var total = 0;
for (var x in xs) { total += x; }
io.println(total);`)
	assert.Equal(t, "60\n", out)
}

func TestClassWithPrivateFieldAndMethods(t *testing.T) {
	out := run(t, `
class Counter {
  private n = 0;
  fn inc() { this.n = this.n + 1; }
  fn get() => this.n;
};
var c = new Counter(); c.inc(); c.inc(); c.inc(); io.println(c.get());`)
	assert.Equal(t, "3\n", out)
}

func TestPrivatePropertyInaccessibleOutside(t *testing.T) {
	rt := runErr(t, `
class Counter {
  private n = 0;
};
var c = new Counter();
io.println(c.n);`)
	assert.Contains(t, rt.Message, "cannot access private property 'n'")
}

func TestPrivateMethodInaccessibleOutside(t *testing.T) {
	rt := runErr(t, `
class C {
  private fn secret() => 1;
};
var c = new C();
c.secret();`)
	assert.Contains(t, rt.Message, "cannot access private method 'secret'")
}

func TestPrivateAccessRequiresSameClass(t *testing.T) {
	// A method of another class cannot reach a private member even when
	// handed the instance.
	rt := runErr(t, `
class A { private x = 1; };
class B { fn peek(a) => a.x; };
var b = new B();
b.peek(new A());`)
	assert.Contains(t, rt.Message, "cannot access private property 'x'")
}

func TestStringInterningAndEquality(t *testing.T) {
	out := run(t, `var a = "hi" + ""; var b = "h" + "i"; io.println(a == b);`)
	assert.Equal(t, "true\n", out)
}

func TestIncludeNamespaceMethod(t *testing.T) {
	out := run(t, `include math; io.println(math.sqrt(16));`)
	assert.Equal(t, "4\n", out)
}

func TestArithmetic(t *testing.T) {
	out := run(t, `io.println(1 + 2 * 3 - 4 / 2);`)
	assert.Equal(t, "5\n", out)

	out = run(t, `io.println(7 % 3);`)
	assert.Equal(t, "1\n", out)

	out = run(t, `io.println(-(3));`)
	assert.Equal(t, "-3\n", out)
}

func TestStringConcatenation(t *testing.T) {
	out := run(t, `io.println("foo" + "bar");`)
	assert.Equal(t, "foobar\n", out)
}

func TestComparisonsAndLogic(t *testing.T) {
	out := run(t, `io.println(1 < 2 and 2 <= 2 and 3 > 2 and 3 >= 3 and 1 != 2);`)
	assert.Equal(t, "true\n", out)
}

func TestShortCircuitEvaluation(t *testing.T) {
	// The decisive operand is the expression's value.
	out := run(t, `io.println(false and 1); io.println(null or "fallback"); io.println(true or 1);`)
	assert.Equal(t, "false\nfallback\ntrue\n", out)
}

func TestWhileLoop(t *testing.T) {
	out := run(t, `var i = 0; var acc = 0; while (i < 5) { acc += i; i++; } io.println(acc);`)
	assert.Equal(t, "10\n", out)
}

func TestCStyleFor(t *testing.T) {
	out := run(t, `var acc = 0; for (var i = 0; i < 4; i = i + 1) { acc += i; } io.println(acc);`)
	assert.Equal(t, "6\n", out)
}

func TestNestedFunctionsNoCapture(t *testing.T) {
	// Nested declarations work but do not close over enclosing locals;
	// they see globals.
	out := run(t, `
var g = 5;
fn outer() {
  fn inner() => g;
  return inner();
}
io.println(outer());`)
	assert.Equal(t, "5\n", out)
}

func TestArrayLiteralIndexing(t *testing.T) {
	out := run(t, `var a = [1, "two", true]; io.println(a[0]); io.println(a[1]); io.println(a[2]);`)
	assert.Equal(t, "1\ntwo\ntrue\n", out)
}

func TestArrayIndexAssignment(t *testing.T) {
	out := run(t, `var a = [1, 2, 3]; a[1] = 20; io.println(a[1]);`)
	assert.Equal(t, "20\n", out)
}

func TestArrayPushPopRoundTrip(t *testing.T) {
	out := run(t, `
var a = [1, 2];
a.push(3);
io.println(a.count);
io.println(a.pop());
io.println(a.count);`)
	assert.Equal(t, "3\n3\n2\n", out)
}

func TestArrayMethods(t *testing.T) {
	out := run(t, `
var a = [3, 1, 2];
a.sort();
io.println(a.join(","));
io.println(a.contains(2));
io.println(a.indexOf(3));`)
	assert.Equal(t, "1,2,3\ntrue\n2\n", out)
}

func TestDictLiteralAndIndexing(t *testing.T) {
	out := run(t, `
var d = {name: "xen", "version": 1};
io.println(d["name"]);
io.println(d["version"]);
d["version"] = 2;
io.println(d["version"]);`)
	assert.Equal(t, "xen\n1\n2\n", out)
}

func TestDictRemoveHasLaw(t *testing.T) {
	out := run(t, `
var d = {k: 1};
io.println(d.has("k"));
d.remove("k");
io.println(d.has("k"));`)
	assert.Equal(t, "true\nfalse\n", out)
}

func TestDictEquality(t *testing.T) {
	out := run(t, `io.println({a: 1, b: 2} == {b: 2, a: 1});`)
	assert.Equal(t, "true\n", out)
}

func TestArrayEquality(t *testing.T) {
	out := run(t, `io.println([1, 2] == [1, 2]); io.println([1, 2] == [2, 1]);`)
	assert.Equal(t, "true\nfalse\n", out)
}

func TestStringMethods(t *testing.T) {
	out := run(t, `
var s = " Hello ";
io.println(s.trim());
io.println(s.trim().upper());
io.println("a,b,c".split(",").count);
io.println("hello".substring(1, 3));
io.println("hello".length);`)
	assert.Equal(t, "Hello\nHELLO\n3\nel\n5\n", out)
}

func TestStringIndexing(t *testing.T) {
	out := run(t, `io.println("abc"[1]);`)
	assert.Equal(t, "b\n", out)
}

func TestNumberMethods(t *testing.T) {
	out := run(t, `
var n = 3.7;
io.println(n.floor());
io.println(n.ceil());
io.println(n.round());
io.println((-2).abs());`)
	assert.Equal(t, "3\n4\n4\n2\n", out)
}

func TestU8ArrayRoundTrip(t *testing.T) {
	out := run(t, `
var b = "hey".bytes();
io.println(b.count);
io.println(b[0]);
io.println(b.toString());`)
	assert.Equal(t, "3\n104\nhey\n", out)
}

func TestBoundMethodIsFirstClass(t *testing.T) {
	out := run(t, `
class Greeter {
  name = "xen";
  fn greet() => "hi " + this.name;
};
var g = new Greeter();
var m = g.greet;
io.println(m());`)
	assert.Equal(t, "hi xen\n", out)
}

func TestInitializerReturnsThis(t *testing.T) {
	out := run(t, `
class Point {
  x = 0;
  y = 0;
  init(x, y) { this.x = x; this.y = y; }
};
var p = new Point(3, 4);
io.println(p.x + p.y);`)
	assert.Equal(t, "7\n", out)
}

func TestInstanceFieldsStartAtDefaults(t *testing.T) {
	out := run(t, `
class Config {
  retries = 3;
  verbose = false;
};
var c = new Config();
io.println(c.retries);
io.println(c.verbose);`)
	assert.Equal(t, "3\nfalse\n", out)
}

func TestErrorValueAndMsg(t *testing.T) {
	out := run(t, `var e = Error("boom"); io.println(e.msg); io.println(e is Error);`)
	assert.Equal(t, "boom\ntrue\n", out)
}

func TestTypeofTypeid(t *testing.T) {
	out := run(t, `io.println(typeof(1)); io.println(typeof("s")); io.println(typeid(1));`)
	assert.Equal(t, "Number\nString\n2\n", out)
}

func TestIsOperator(t *testing.T) {
	out := run(t, `
io.println(1 is Number);
io.println("s" is String);
io.println([1] is Array);
io.println({} is Dict);
io.println(1 is String);`)
	assert.Equal(t, "true\ntrue\ntrue\ntrue\nfalse\n", out)
}

func TestIsOperatorWithClass(t *testing.T) {
	out := run(t, `
class A {};
class B {};
var a = new A();
io.println(a is A);
io.println(a is B);`)
	assert.Equal(t, "true\nfalse\n", out)
}

func TestCastOperator(t *testing.T) {
	out := run(t, `
io.println("42" as Number);
io.println(42 as String);
io.println(1 as Bool);`)
	assert.Equal(t, "42\n42\ntrue\n", out)
}

func TestCastFailure(t *testing.T) {
	rt := runErr(t, `"not a number" as Number;`)
	assert.Contains(t, rt.Message, "cannot cast")
}

func TestNumberStringRoundTrip(t *testing.T) {
	out := run(t, `io.println(("3.25" as Number) == 3.25); io.println((7 as String) as Number);`)
	assert.Equal(t, "true\n7\n", out)
}

func TestRuntimeErrorUndefinedVariable(t *testing.T) {
	rt := runErr(t, `missing;`)
	assert.Contains(t, rt.Message, "undefined variable 'missing'")
}

func TestRuntimeErrorOperandTypes(t *testing.T) {
	rt := runErr(t, `1 - "s";`)
	assert.Contains(t, rt.Message, "operands must be numbers")

	rt = runErr(t, `1 + "s";`)
	assert.Contains(t, rt.Message, "operands must be two numbers or two strings")
}

func TestRuntimeErrorUndefinedProperty(t *testing.T) {
	rt := runErr(t, `class C {}; var c = new C(); c.nope;`)
	assert.Contains(t, rt.Message, "undefined property 'nope'")
}

func TestRuntimeErrorArityMismatch(t *testing.T) {
	rt := runErr(t, `fn f(a) => a; f(1, 2);`)
	assert.Contains(t, rt.Message, "expected 1 arguments but got 2")
}

func TestRuntimeErrorCallNonCallable(t *testing.T) {
	rt := runErr(t, `var x = 1; x();`)
	assert.Contains(t, rt.Message, "can only call functions")
}

func TestRuntimeErrorConstGlobalAssignmentAtRuntime(t *testing.T) {
	// The VM enforces const independently of the compiler, which matters
	// for REPL sessions where a later line compiles separately.
	var out bytes.Buffer
	machine := New(WithStdout(&out))
	defer machine.Shutdown()

	c1 := compiler.New("const k = 1;", machine.Arena())
	fn1, err := c1.Compile()
	require.NoError(t, err)
	machine.MarkConst(c1.ConstGlobals())
	require.NoError(t, machine.Run(fn1))

	c2 := compiler.New("k = 2;", machine.Arena())
	fn2, err := c2.Compile()
	require.NoError(t, err)
	err = machine.Run(fn2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot assign to const 'k'")
}

func TestRuntimeErrorStackOverflow(t *testing.T) {
	rt := runErr(t, `fn f() { return f(); } f();`)
	assert.Contains(t, rt.Message, "stack overflow")
}

func TestRuntimeErrorIndexOutOfBounds(t *testing.T) {
	rt := runErr(t, `var a = [1]; a[5];`)
	assert.Contains(t, rt.Message, "out of bounds")
}

func TestRuntimeErrorStackTraceFormat(t *testing.T) {
	rt := runErr(t, `
fn inner() { missing; }
fn outer() { return inner(); }
outer();`)
	msg := rt.Error()
	assert.Contains(t, msg, "in inner")
	assert.Contains(t, msg, "in outer")
	assert.Contains(t, msg, "in script")
	assert.Regexp(t, `\[line \d+\] in inner`, msg)
}

func TestVMRecoversAfterRuntimeError(t *testing.T) {
	// A runtime error resets both stacks; the same VM must accept a new
	// program, which is what keeps the REPL alive.
	var out bytes.Buffer
	machine := New(WithStdout(&out))
	defer machine.Shutdown()

	c1 := compiler.New("missing;", machine.Arena())
	fn1, err := c1.Compile()
	require.NoError(t, err)
	require.Error(t, machine.Run(fn1))

	c2 := compiler.New(`io.println("ok");`, machine.Arena())
	fn2, err := c2.Compile()
	require.NoError(t, err)
	require.NoError(t, machine.Run(fn2))
	assert.Equal(t, "ok\n", out.String())
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	var out bytes.Buffer
	machine := New(WithStdout(&out))
	defer machine.Shutdown()

	for _, src := range []string{"var counter = 1;", "counter = counter + 41;", "io.println(counter);"} {
		c := compiler.New(src, machine.Arena())
		fn, err := c.Compile()
		require.NoError(t, err)
		machine.MarkConst(c.ConstGlobals())
		require.NoError(t, machine.Run(fn))
	}
	assert.Equal(t, "42\n", out.String())
}

func TestUnknownNamespaceInclude(t *testing.T) {
	rt := runErr(t, `include nosuch;`)
	assert.Contains(t, rt.Message, "unknown namespace 'nosuch'")
}

func TestStdlibNamespaces(t *testing.T) {
	out := run(t, `
include math;
include string;
include array;
include dict;
io.println(math.pow(2, 10));
io.println(string.repeat("ab", 3));
io.println(array.range(0, 4).count);
var d = dict.new();
d["k"] = 5;
io.println(d["k"]);`)
	assert.Equal(t, "1024\nababab\n4\n5\n", out)
}

func TestFieldHoldingCallableShadowsMethods(t *testing.T) {
	out := run(t, `
fn shout() => "field wins";
class C {
  say = null;
  init() { this.say = shout; }
};
var c = new C();
io.println(c.say());`)
	assert.Equal(t, "field wins\n", out)
}

func TestStackDepthPreservedAcrossCalls(t *testing.T) {
	// Exercising many calls inside expressions: if frames leaked stack
	// slots, this would drift and corrupt results.
	out := run(t, `
fn one() => 1;
var total = 0;
for (var i in 0..100) { total += one() + one(); }
io.println(total);`)
	assert.Equal(t, "200\n", out)
}

func TestDeepButBoundedRecursion(t *testing.T) {
	out := run(t, `
fn down(n) { if (n == 0) return 0; return down(n - 1); }
io.println(down(60));`)
	assert.Equal(t, "0\n", out)
}

func TestModIsFloatingMod(t *testing.T) {
	out := run(t, `io.println(7.5 % 2);`)
	assert.Equal(t, "1.5\n", out)
}

func TestPrintMultipleValues(t *testing.T) {
	out := run(t, `io.println(1, "two", true, null);`)
	assert.Equal(t, "1 two true null\n", out)
}

func TestStringsAreInternedAcrossConcat(t *testing.T) {
	// Concatenation results intern: equal contents are the same object, so
	// dict keys built at runtime hit the same table entries.
	out := run(t, `
var d = {};
d["a" + "b"] = 1;
io.println(d["ab"]);`)
	assert.Equal(t, "1\n", out)
}

func TestConditionalBranches(t *testing.T) {
	out := run(t, `
fn pick(b) { if (b) { return "yes"; } else { return "no"; } }
io.println(pick(true));
io.println(pick(false));`)
	assert.Equal(t, "yes\nno\n", out)
}

func TestWhileFalseNeverRuns(t *testing.T) {
	out := run(t, `while (false) { io.println("never"); } io.println("done");`)
	assert.Equal(t, "done\n", out)
}

func TestEmptyRangeNeverRuns(t *testing.T) {
	out := run(t, `for (var i in 5..5) { io.println("never"); } io.println("done");`)
	assert.Equal(t, "done\n", out)
}

func TestNamespaceValueIsFirstClass(t *testing.T) {
	out := run(t, `include math; var m = math; io.println(m.sqrt(9));`)
	assert.Equal(t, "3\n", out)
}

func TestTraceLinesPointAtFailingLine(t *testing.T) {
	rt := runErr(t, "\n\nmissing;")
	require.NotEmpty(t, rt.StackTrace)
	assert.Equal(t, 3, rt.StackTrace[len(rt.StackTrace)-1].Line)
}

func TestErrorMessageOnlyOnce(t *testing.T) {
	rt := runErr(t, `missing;`)
	assert.Equal(t, 1, strings.Count(rt.Error(), "undefined variable"))
}
