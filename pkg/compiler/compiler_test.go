package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenlang/xen/pkg/bytecode"
	"github.com/xenlang/xen/pkg/value"
)

func compile(t *testing.T, source string) *value.Function {
	t.Helper()
	c := New(source, value.NewArena())
	fn, err := c.Compile()
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func compileErr(t *testing.T, source string) error {
	t.Helper()
	c := New(source, value.NewArena())
	fn, err := c.Compile()
	require.Error(t, err)
	assert.Nil(t, fn, "a unit with any error yields no function")
	return err
}

// opcodes flattens a chunk's instruction stream (skipping operands) so tests
// can assert on emission order.
func opcodes(c *value.Chunk) []bytecode.Opcode {
	var ops []bytecode.Opcode
	for i := 0; i < len(c.Code); {
		op := bytecode.Opcode(c.Code[i])
		ops = append(ops, op)
		switch op {
		case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
			bytecode.OpSetGlobal, bytecode.OpGetLocal, bytecode.OpSetLocal,
			bytecode.OpCall, bytecode.OpCallInit, bytecode.OpArrayNew,
			bytecode.OpClass, bytecode.OpGetProperty, bytecode.OpSetProperty,
			bytecode.OpInclude, bytecode.OpIsType, bytecode.OpCast:
			i += 2
		case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop,
			bytecode.OpInvoke, bytecode.OpProperty, bytecode.OpMethod:
			i += 3
		default:
			i++
		}
	}
	return ops
}

func TestCompile_NumberLiteral(t *testing.T) {
	fn := compile(t, "42;")
	ops := opcodes(fn.Chunk)
	assert.Equal(t, []bytecode.Opcode{
		bytecode.OpConstant, bytecode.OpPop, bytecode.OpNull, bytecode.OpReturn,
	}, ops)
	require.Len(t, fn.Chunk.Constants, 1)
	assert.Equal(t, 42.0, fn.Chunk.Constants[0].AsNumber())
}

func TestCompile_Arithmetic(t *testing.T) {
	fn := compile(t, "1 + 2 * 3;")
	ops := opcodes(fn.Chunk)
	// Factor binds tighter than term: 2*3 multiplies before the add.
	assert.Equal(t, []bytecode.Opcode{
		bytecode.OpConstant, bytecode.OpConstant, bytecode.OpConstant,
		bytecode.OpMultiply, bytecode.OpAdd,
		bytecode.OpPop, bytecode.OpNull, bytecode.OpReturn,
	}, ops)
}

func TestCompile_ComparisonDesugaring(t *testing.T) {
	fn := compile(t, "1 <= 2;")
	ops := opcodes(fn.Chunk)
	// <= is emitted as GREATER then NOT.
	assert.Contains(t, ops, bytecode.OpGreater)
	assert.Contains(t, ops, bytecode.OpNot)
}

func TestCompile_GlobalDeclaration(t *testing.T) {
	fn := compile(t, "var x = 10; x = 20; x;")
	ops := opcodes(fn.Chunk)
	assert.Equal(t, bytecode.OpDefineGlobal, ops[1])
	assert.Contains(t, ops, bytecode.OpSetGlobal)
	assert.Contains(t, ops, bytecode.OpGetGlobal)
}

func TestCompile_LocalsResolveToSlots(t *testing.T) {
	fn := compile(t, "{ var a = 1; var b = 2; a + b; }")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpGetLocal)
	assert.NotContains(t, ops, bytecode.OpGetGlobal, "block locals never resolve as globals")
}

func TestCompile_CompoundAssignmentLowering(t *testing.T) {
	fn := compile(t, "var x = 1; x += 2;")
	ops := opcodes(fn.Chunk)
	// get; expr; op; set
	var idx int
	for i, op := range ops {
		if op == bytecode.OpGetGlobal {
			idx = i
			break
		}
	}
	assert.Equal(t, bytecode.OpConstant, ops[idx+1])
	assert.Equal(t, bytecode.OpAdd, ops[idx+2])
	assert.Equal(t, bytecode.OpSetGlobal, ops[idx+3])
}

func TestCompile_PostfixIncrement(t *testing.T) {
	fn := compile(t, "var x = 1; x++;")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpAdd)
	assert.Contains(t, ops, bytecode.OpSetGlobal)
}

func TestCompile_IfElseJumpTargets(t *testing.T) {
	fn := compile(t, "if (true) { 1; } else { 2; }")
	c := fn.Chunk

	// Walk the stream and verify every jump lands on an instruction
	// boundary inside the chunk: the disassembly round-trip property.
	boundaries := map[int]bool{}
	for i := 0; i < len(c.Code); {
		boundaries[i] = true
		op := bytecode.Opcode(c.Code[i])
		switch op {
		case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
			bytecode.OpSetGlobal, bytecode.OpGetLocal, bytecode.OpSetLocal,
			bytecode.OpCall, bytecode.OpCallInit, bytecode.OpArrayNew,
			bytecode.OpClass, bytecode.OpGetProperty, bytecode.OpSetProperty,
			bytecode.OpInclude, bytecode.OpIsType, bytecode.OpCast:
			i += 2
		case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop,
			bytecode.OpInvoke, bytecode.OpProperty, bytecode.OpMethod:
			i += 3
		default:
			i++
		}
	}
	boundaries[len(c.Code)] = true

	for i := 0; i < len(c.Code); {
		op := bytecode.Opcode(c.Code[i])
		switch op {
		case bytecode.OpJump, bytecode.OpJumpIfFalse:
			target := i + 3 + int(c.ReadUint16(i+1))
			assert.True(t, boundaries[target], "forward jump at %d lands mid-instruction at %d", i, target)
			i += 3
		case bytecode.OpLoop:
			target := i + 3 - int(c.ReadUint16(i+1))
			assert.True(t, boundaries[target], "loop at %d lands mid-instruction at %d", i, target)
			i += 3
		case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
			bytecode.OpSetGlobal, bytecode.OpGetLocal, bytecode.OpSetLocal,
			bytecode.OpCall, bytecode.OpCallInit, bytecode.OpArrayNew,
			bytecode.OpClass, bytecode.OpGetProperty, bytecode.OpSetProperty,
			bytecode.OpInclude, bytecode.OpIsType, bytecode.OpCast:
			i += 2
		case bytecode.OpInvoke, bytecode.OpProperty, bytecode.OpMethod:
			i += 3
		default:
			i++
		}
	}
}

func TestCompile_WhileEmitsLoop(t *testing.T) {
	fn := compile(t, "var i = 0; while (i < 3) { i = i + 1; }")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpLoop)
	assert.Contains(t, ops, bytecode.OpJumpIfFalse)
}

func TestCompile_CStyleFor(t *testing.T) {
	fn := compile(t, "for (var i = 0; i < 3; i = i + 1) { i; }")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpLoop)
}

func TestCompile_CStyleForMissingClauses(t *testing.T) {
	// All clauses optional; never executed here, so the infinite loop is fine.
	compile(t, "for (;;) { 1; }")
}

func TestCompile_RangeFor(t *testing.T) {
	fn := compile(t, "for (var i in 0..5) { i; }")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpLess)
	assert.Contains(t, ops, bytecode.OpLoop)
	assert.NotContains(t, ops, bytecode.OpArrayLen)
}

func TestCompile_ArrayFor(t *testing.T) {
	fn := compile(t, "var xs = [1, 2]; for (var x in xs) { x; }")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpArrayLen)
	assert.Contains(t, ops, bytecode.OpIndexGet)
	assert.Contains(t, ops, bytecode.OpLoop)
}

func TestCompile_FunctionDeclaration(t *testing.T) {
	fn := compile(t, "fn add(a, b) { return a + b; }")
	require.Len(t, fn.Chunk.Constants, 2, "function constant + name constant")

	var inner *value.Function
	for _, c := range fn.Chunk.Constants {
		if c.IsObject() {
			if f, ok := c.AsObject().(*value.Function); ok {
				inner = f
			}
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, "add", inner.Name)
	assert.Equal(t, 2, inner.Arity)
	assert.Contains(t, opcodes(inner.Chunk), bytecode.OpReturn)
}

func TestCompile_ArrowFunctionImplicitReturn(t *testing.T) {
	fn := compile(t, "fn double(x) => x * 2;")
	var inner *value.Function
	for _, c := range fn.Chunk.Constants {
		if c.IsObject() {
			if f, ok := c.AsObject().(*value.Function); ok {
				inner = f
			}
		}
	}
	require.NotNil(t, inner)
	ops := opcodes(inner.Chunk)
	assert.Equal(t, bytecode.OpReturn, ops[len(ops)-1])
	assert.Contains(t, ops, bytecode.OpMultiply)
}

func TestCompile_ClassEmissionSequence(t *testing.T) {
	fn := compile(t, `
class Point {
  x = 0;
  private y = 0;
  fn getX() => this.x;
  init() { this.x = 1; }
};`)
	ops := opcodes(fn.Chunk)
	assert.Equal(t, []bytecode.Opcode{
		bytecode.OpClass, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
		bytecode.OpConstant, bytecode.OpProperty, // x = 0
		bytecode.OpConstant, bytecode.OpProperty, // private y = 0
		bytecode.OpConstant, bytecode.OpMethod, // fn getX
		bytecode.OpConstant, bytecode.OpInitializer, // init
		bytecode.OpPop,
		bytecode.OpNull, bytecode.OpReturn,
	}, ops)
}

func TestCompile_NewEmitsCallInit(t *testing.T) {
	fn := compile(t, "class C {}; var c = new C();")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpCallInit)
}

func TestCompile_MethodInvokeFusion(t *testing.T) {
	fn := compile(t, "var s = \"x\"; s.upper();")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpInvoke)
	assert.NotContains(t, ops, bytecode.OpGetProperty, "call-after-dot fuses into INVOKE")
}

func TestCompile_PropertyReadWithoutCall(t *testing.T) {
	fn := compile(t, "var s = \"x\"; s.length;")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpGetProperty)
}

func TestCompile_IncludeNamespace(t *testing.T) {
	fn := compile(t, "include math;")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpInclude)
}

func TestCompile_IncludeFileInline(t *testing.T) {
	loader := func(name string) (string, error) {
		return "var included = 99;", nil
	}
	c := New(`include "lib.xen"; included;`, value.NewArena(), WithFileLoader(loader))
	fn, err := c.Compile()
	require.NoError(t, err)
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpDefineGlobal, "included declarations land in the including scope")
}

func TestCompile_IncludeFileCycleIsSilent(t *testing.T) {
	loader := func(name string) (string, error) {
		return `include "self.xen"; var v = 1;`, nil
	}
	c := New(`include "self.xen";`, value.NewArena(), WithFileLoader(loader))
	_, err := c.Compile()
	require.NoError(t, err, "cyclic includes are skipped, not an error")
}

func TestCompile_IncludeFileWithoutLoader(t *testing.T) {
	err := compileErr(t, `include "missing.xen";`)
	assert.Contains(t, err.Error(), "cannot include file")
}

func TestCompile_IsAndAs(t *testing.T) {
	fn := compile(t, "var x = 1; x is Number; x as String;")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpIsType)
	assert.Contains(t, ops, bytecode.OpCast)
}

func TestCompile_ShortCircuitAnd(t *testing.T) {
	fn := compile(t, "true and false;")
	ops := opcodes(fn.Chunk)
	assert.Contains(t, ops, bytecode.OpJumpIfFalse)
}

func TestCompileError_ConstAssignment(t *testing.T) {
	err := compileErr(t, "const k = 1; k = 2;")
	assert.Contains(t, err.Error(), "cannot assign to const 'k'")
}

func TestCompileError_ConstIncrement(t *testing.T) {
	err := compileErr(t, "const k = 1; k++;")
	assert.Contains(t, err.Error(), "cannot assign to const 'k'")
}

func TestCompileError_ConstCompound(t *testing.T) {
	err := compileErr(t, "const k = 1; k += 2;")
	assert.Contains(t, err.Error(), "cannot assign to const 'k'")
}

func TestCompileError_ConstLocalAssignment(t *testing.T) {
	err := compileErr(t, "{ const k = 1; k = 2; }")
	assert.Contains(t, err.Error(), "cannot assign to const 'k'")
}

func TestCompileError_ConstRequiresInitializer(t *testing.T) {
	err := compileErr(t, "const k;")
	assert.Contains(t, err.Error(), "initializer")
}

func TestCompileError_ReadLocalInOwnInitializer(t *testing.T) {
	err := compileErr(t, "{ var a = 1; { var a = a; } }")
	assert.Contains(t, err.Error(), "own initializer")
}

func TestCompileError_DuplicateLocal(t *testing.T) {
	err := compileErr(t, "{ var a = 1; var a = 2; }")
	assert.Contains(t, err.Error(), "already exists")
}

func TestCompileError_TopLevelReturn(t *testing.T) {
	err := compileErr(t, "return 1;")
	assert.Contains(t, err.Error(), "top-level")
}

func TestCompileError_InitializerReturnValue(t *testing.T) {
	err := compileErr(t, "class C { init() { return 1; } };")
	assert.Contains(t, err.Error(), "initializer")
}

func TestCompileError_ThisOutsideClass(t *testing.T) {
	err := compileErr(t, "this;")
	assert.Contains(t, err.Error(), "'this' outside")
}

func TestCompileError_Format(t *testing.T) {
	err := compileErr(t, "var = 5;")
	assert.Regexp(t, `\[line \d+\] error at '='`, err.Error())
}

func TestCompileError_PanicModeRecovers(t *testing.T) {
	// Two independent errors separated by a statement boundary are both
	// reported after resynchronization.
	err := compileErr(t, "var = 1;\nvar = 2;")
	assert.Equal(t, 2, strings.Count(err.Error(), "error at"))
}

func TestCompileError_ExpectedExpression(t *testing.T) {
	err := compileErr(t, "1 + ;")
	assert.Contains(t, err.Error(), "expected expression")
}
