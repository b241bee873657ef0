// Package compiler implements Xen's single-pass bytecode compiler.
//
// There is no AST: the compiler consumes the lexer's token stream through a
// Pratt precedence parser and emits bytecode directly into per-function
// chunks as it goes. Locals resolve to frame-relative stack slots, globals
// resolve by name at runtime, and forward control flow is back-patched once
// jump targets are known.
//
// The pipeline is:
//
//	source text -> Lexer -> tokens -> Compiler -> top-level Function -> VM
//
// File includes are compiled inline: the compiler saves the lexer's cursor
// state, switches it to the included file's source, compiles that file's
// declarations into the current global scope, and restores the saved state.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xenlang/xen/pkg/bytecode"
	"github.com/xenlang/xen/pkg/lexer"
	"github.com/xenlang/xen/pkg/token"
	"github.com/xenlang/xen/pkg/value"
)

// Limits imposed by the operand encodings: one byte for local slots, arity,
// and constant indices; two bytes for jump offsets.
const (
	maxLocals    = 256
	maxArity     = 255
	maxConstants = 256
	maxJump      = 65535
)

// precedence levels, lowest to highest.
type precedence int

const (
	precNone precedence = iota
	precAssignment           // =
	precOr                   // or
	precAnd                  // and
	precEquality             // == !=
	precComparison           // < > <= >= is as
	precTerm                 // + -
	precFactor               // * / %
	precUnary                // ! -
	precCall                 // . () []
	precPostfix              // ++ --
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// funcType distinguishes the four kinds of compilation unit. It decides what
// occupies local slot 0 and how implicit returns behave.
type funcType int

const (
	typeScript funcType = iota
	typeFunction
	typeMethod
	typeInitializer
)

// local is one entry in a unit's slot table. depth == -1 marks a local that
// has been declared but not yet initialized; reading it is a compile error.
type local struct {
	name    string
	depth   int
	isConst bool
}

// unit is the per-function compiler state: one exists for the top-level
// script and one for each nested function, linked through enclosing.
type unit struct {
	enclosing  *unit
	function   *value.Function
	fnType     funcType
	locals     []local
	scopeDepth int
}

// FileLoader resolves an included file's name to its source text. The CLI
// installs a loader that reads relative to the including script's directory;
// a nil loader makes every file include a compile error.
type FileLoader func(name string) (string, error)

// Compiler compiles one top-level source string (plus any files it includes)
// into a value.Function ready for execution.
type Compiler struct {
	lex      *lexer.Lexer
	arena    *value.Arena
	current  token.Token
	previous token.Token

	unit *unit

	// currentClass is non-nil while compiling a class body; it gates `this`.
	currentClass *value.Class

	hadError  bool
	panicMode bool
	errs      []string

	constGlobals map[string]bool

	loader        FileLoader
	includedPaths map[string]bool
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithFileLoader installs the loader used to resolve `include "file"`
// statements.
func WithFileLoader(loader FileLoader) Option {
	return func(c *Compiler) { c.loader = loader }
}

// New returns a compiler for the given source. The arena is shared with the
// VM that will execute the result, so string constants interned at compile
// time are the same objects the VM sees at run time.
func New(source string, arena *value.Arena, opts ...Option) *Compiler {
	c := &Compiler{
		lex:           lexer.New(source),
		arena:         arena,
		constGlobals:  make(map[string]bool),
		includedPaths: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConstGlobals returns the set of global names declared `const` by this
// compilation. The VM consults it to reject runtime assignment through
// SET_GLOBAL.
func (c *Compiler) ConstGlobals() map[string]bool { return c.constGlobals }

// Compile drives the whole compilation and returns the top-level script
// function, or an error describing every syntax error found. A unit with any
// error yields no function.
func (c *Compiler) Compile() (*value.Function, error) {
	c.beginUnit(typeScript, "")

	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}

	fn := c.endUnit()
	if c.hadError {
		return nil, errors.New(strings.Join(c.errs, "\n"))
	}
	return fn, nil
}

// beginUnit pushes a fresh compilation unit. Slot 0 is reserved: `this` for
// methods and initializers, the callee itself for plain functions and the
// script.
func (c *Compiler) beginUnit(ft funcType, name string) {
	u := &unit{
		enclosing: c.unit,
		function:  c.arena.NewFunction(name, 0, value.NewChunk()),
		fnType:    ft,
	}
	slotZero := local{depth: 0}
	if ft == typeMethod || ft == typeInitializer {
		slotZero.name = "this"
	}
	u.locals = append(u.locals, slotZero)
	c.unit = u
}

// endUnit emits the unit's implicit return and pops back to the enclosing
// unit, returning the finished function.
func (c *Compiler) endUnit() *value.Function {
	c.emitReturn()
	fn := c.unit.function
	c.unit = c.unit.enclosing
	return fn
}

// ---- token plumbing ----

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.Next()
		if c.current.Type != token.Error {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(t token.Type, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) check(t token.Type) bool { return c.current.Type == t }

func (c *Compiler) match(t token.Type) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// ---- error reporting ----

func (c *Compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	var where string
	switch tok.Type {
	case token.EOF:
		where = "end"
	case token.Error:
		where = tok.Lexeme
	default:
		where = "'" + tok.Lexeme + "'"
	}
	c.errs = append(c.errs, fmt.Sprintf("[line %d] error at %s: %s", tok.Line, where, msg))
}

func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }
func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }

// synchronize discards tokens until a declaration boundary so one syntax
// error doesn't cascade into dozens of spurious ones.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != token.EOF {
		if c.previous.Type == token.Semicolon {
			return
		}
		switch c.current.Type {
		case token.Fn, token.Class, token.Const, token.Var,
			token.For, token.If, token.While, token.Return, token.Include:
			return
		}
		c.advance()
	}
}

// ---- emission ----

func (c *Compiler) chunk() *value.Chunk { return c.unit.function.Chunk }

func (c *Compiler) emitByte(b byte) { c.chunk().Write(b, c.previous.Line) }

func (c *Compiler) emitOp(op bytecode.Opcode) { c.emitByte(byte(op)) }

func (c *Compiler) emitOps(op bytecode.Opcode, operand byte) {
	c.emitByte(byte(op))
	c.emitByte(operand)
}

func (c *Compiler) emitReturn() {
	if c.unit.fnType == typeInitializer {
		c.emitOps(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNull)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx >= maxConstants {
		c.error("too many constants in one chunk")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOps(bytecode.OpConstant, c.makeConstant(v))
}

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(value.Object(c.arena.InternString(name)))
}

// emitJump writes op with a 16-bit placeholder operand and returns the
// placeholder's offset for patchJump.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.chunk().Len() - 2
}

// patchJump fixes a forward jump's placeholder to land on the next
// instruction to be emitted.
func (c *Compiler) patchJump(offset int) {
	jump := c.chunk().Len() - offset - 2
	if jump > maxJump {
		c.error("too much code to jump over")
	}
	c.chunk().PatchUint16(offset, uint16(jump))
}

// emitLoop emits a backward jump to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := c.chunk().Len() - loopStart + 2
	if offset > maxJump {
		c.error("loop body too large")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---- scopes and locals ----

func (c *Compiler) beginScope() { c.unit.scopeDepth++ }

func (c *Compiler) endScope() {
	c.unit.scopeDepth--
	for len(c.unit.locals) > 0 {
		last := c.unit.locals[len(c.unit.locals)-1]
		if last.depth <= c.unit.scopeDepth {
			break
		}
		c.emitOp(bytecode.OpPop)
		c.unit.locals = c.unit.locals[:len(c.unit.locals)-1]
	}
}

// addLocal reserves a slot for name at depth -1 (declared, uninitialized).
func (c *Compiler) addLocal(name string, isConst bool) {
	if len(c.unit.locals) >= maxLocals {
		c.error("too many local variables in function")
		return
	}
	c.unit.locals = append(c.unit.locals, local{name: name, depth: -1, isConst: isConst})
}

// markInitialized flips the newest local from declared to usable.
func (c *Compiler) markInitialized() {
	if c.unit.scopeDepth == 0 {
		return
	}
	c.unit.locals[len(c.unit.locals)-1].depth = c.unit.scopeDepth
}

// resolveLocal scans the slot table newest-to-oldest for name. Returns the
// slot index, or -1 if name is not a local in this unit.
func (c *Compiler) resolveLocal(u *unit, name string) int {
	for i := len(u.locals) - 1; i >= 0; i-- {
		l := u.locals[i]
		if l.name == name {
			if l.depth == -1 {
				c.error("cannot read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) localIsConst(slot int) bool { return c.unit.locals[slot].isConst }

// declareVariable registers name in the current scope. Globals are declared
// at runtime by DEFINE_GLOBAL; locals go into the slot table here.
func (c *Compiler) declareVariable(isConst bool) {
	if c.unit.scopeDepth == 0 {
		return
	}
	name := c.previous.Lexeme
	for i := len(c.unit.locals) - 1; i >= 0; i-- {
		l := c.unit.locals[i]
		if l.depth != -1 && l.depth < c.unit.scopeDepth {
			break
		}
		if l.name == name {
			c.error("a variable named '" + name + "' already exists in this scope")
		}
	}
	c.addLocal(name, isConst)
}

// parseVariable consumes an identifier and declares it, returning the name
// constant index (meaningful only at global scope).
func (c *Compiler) parseVariable(errMsg string, isConst bool) byte {
	c.consume(token.Identifier, errMsg)
	c.declareVariable(isConst)
	if c.unit.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Lexeme)
}

// defineVariable binds the initialized value: DEFINE_GLOBAL at depth 0,
// slot-table initialization otherwise.
func (c *Compiler) defineVariable(global byte, name string, isConst bool) {
	if c.unit.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	if isConst {
		c.constGlobals[name] = true
	}
	c.emitOps(bytecode.OpDefineGlobal, global)
}

// ---- declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(token.Class):
		c.classDeclaration()
	case c.match(token.Fn):
		c.fnDeclaration()
	case c.match(token.Var):
		c.varDeclaration(false)
	case c.match(token.Const):
		c.varDeclaration(true)
	case c.match(token.Include):
		c.includeStatement()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.If):
		c.ifStatement()
	case c.match(token.While):
		c.whileStatement()
	case c.match(token.For):
		c.forStatement()
	case c.match(token.Return):
		c.returnStatement()
	case c.match(token.LeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(token.RightBrace) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RightBrace, "expected '}' after block")
}

func (c *Compiler) varDeclaration(isConst bool) {
	global := c.parseVariable("expected variable name", isConst)
	name := c.previous.Lexeme

	if c.match(token.Equal) {
		c.expression()
	} else {
		if isConst {
			c.error("const declaration requires an initializer")
		}
		c.emitOp(bytecode.OpNull)
	}
	c.consume(token.Semicolon, "expected ';' after variable declaration")
	c.defineVariable(global, name, isConst)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(token.Semicolon, "expected ';' after expression")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(token.LeftParen, "expected '(' after 'if'")
	c.expression()
	c.consume(token.RightParen, "expected ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	elseJump := c.emitJump(bytecode.OpJump)

	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)
	if c.match(token.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.chunk().Len()
	c.consume(token.LeftParen, "expected '(' after 'while'")
	c.expression()
	c.consume(token.RightParen, "expected ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement dispatches the three `for` shapes with lookahead after '(':
// `for (var x in ...)` is an iteration form (range or array), anything else
// is C-style.
func (c *Compiler) forStatement() {
	c.consume(token.LeftParen, "expected '(' after 'for'")

	if c.check(token.Var) {
		// Peek past `var IDENT` for `in` by saving the lexer and the token
		// window, the same machinery file includes use.
		saved := c.lex.Save()
		savedCur, savedPrev := c.current, c.previous
		c.advance() // var
		isIter := false
		if c.check(token.Identifier) {
			c.advance()
			isIter = c.check(token.In)
		}
		c.lex.Restore(saved)
		c.current, c.previous = savedCur, savedPrev

		if isIter {
			c.forInStatement()
			return
		}
	}
	c.cStyleForStatement()
}

// forInStatement compiles `for (var x in START..END)` and
// `for (var x in ARR)`.
func (c *Compiler) forInStatement() {
	c.beginScope()
	c.consume(token.Var, "expected 'var'")
	c.consume(token.Identifier, "expected loop variable name")
	loopVar := c.previous.Lexeme
	c.consume(token.In, "expected 'in'")

	// First expression: either a range start or the array itself.
	c.expression()

	if c.match(token.DotDot) {
		c.rangeLoop(loopVar)
	} else {
		c.arrayLoop(loopVar)
	}
	c.endScope()
}

// rangeLoop wraps the body in `while (i < __end) { ...; i = i + 1; }` with
// the loop variable and a hidden __end local.
func (c *Compiler) rangeLoop(loopVar string) {
	// START is on the stack: it becomes the loop variable's slot.
	c.addLocal(loopVar, false)
	c.markInitialized()
	iSlot := byte(len(c.unit.locals) - 1)

	c.expression() // END
	c.consume(token.RightParen, "expected ')' after range")
	c.addLocal("__end", false)
	c.markInitialized()
	endSlot := byte(len(c.unit.locals) - 1)

	loopStart := c.chunk().Len()
	c.emitOps(bytecode.OpGetLocal, iSlot)
	c.emitOps(bytecode.OpGetLocal, endSlot)
	c.emitOp(bytecode.OpLess)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)

	c.statement()

	c.emitOps(bytecode.OpGetLocal, iSlot)
	c.emitConstant(value.Number(1))
	c.emitOp(bytecode.OpAdd)
	c.emitOps(bytecode.OpSetLocal, iSlot)
	c.emitOp(bytecode.OpPop)
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)

	// Drop the two loop slots without emitting endScope pops twice.
	c.emitOp(bytecode.OpPop) // __end
	c.emitOp(bytecode.OpPop) // loop variable
	c.unit.locals = c.unit.locals[:len(c.unit.locals)-2]
}

// arrayLoop iterates `for (var x in ARR)` with hidden __arr/__len/__i
// locals; each iteration binds a fresh x = __arr[__i].
func (c *Compiler) arrayLoop(loopVar string) {
	// ARR is on the stack: it becomes hidden local __arr.
	c.addLocal("__arr", false)
	c.markInitialized()
	arrSlot := byte(len(c.unit.locals) - 1)
	c.consume(token.RightParen, "expected ')' after iterable")

	c.emitOps(bytecode.OpGetLocal, arrSlot)
	c.emitOp(bytecode.OpArrayLen)
	c.addLocal("__len", false)
	c.markInitialized()
	lenSlot := byte(len(c.unit.locals) - 1)

	c.emitConstant(value.Number(0))
	c.addLocal("__i", false)
	c.markInitialized()
	iSlot := byte(len(c.unit.locals) - 1)

	loopStart := c.chunk().Len()
	c.emitOps(bytecode.OpGetLocal, iSlot)
	c.emitOps(bytecode.OpGetLocal, lenSlot)
	c.emitOp(bytecode.OpLess)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)

	c.beginScope()
	c.emitOps(bytecode.OpGetLocal, arrSlot)
	c.emitOps(bytecode.OpGetLocal, iSlot)
	c.emitOp(bytecode.OpIndexGet)
	c.addLocal(loopVar, false)
	c.markInitialized()

	c.statement()
	c.endScope() // pops x

	c.emitOps(bytecode.OpGetLocal, iSlot)
	c.emitConstant(value.Number(1))
	c.emitOp(bytecode.OpAdd)
	c.emitOps(bytecode.OpSetLocal, iSlot)
	c.emitOp(bytecode.OpPop)
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)

	c.emitOp(bytecode.OpPop) // __i
	c.emitOp(bytecode.OpPop) // __len
	c.emitOp(bytecode.OpPop) // __arr
	c.unit.locals = c.unit.locals[:len(c.unit.locals)-3]
}

// cStyleForStatement compiles `for (init; cond; incr) body`. The increment
// clause textually precedes the body but must run after it, so the body is
// reached by jumping over the increment and the increment loops back to the
// condition.
func (c *Compiler) cStyleForStatement() {
	c.beginScope()

	// Initializer clause.
	switch {
	case c.match(token.Semicolon):
		// no initializer
	case c.match(token.Var):
		c.varDeclaration(false)
	default:
		c.expressionStatement()
	}

	loopStart := c.chunk().Len()

	// Condition clause.
	exitJump := -1
	if !c.match(token.Semicolon) {
		c.expression()
		c.consume(token.Semicolon, "expected ';' after loop condition")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	// Increment clause.
	if !c.match(token.RightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := c.chunk().Len()
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(token.RightParen, "expected ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.unit.fnType == typeScript {
		c.error("cannot return from top-level code")
	}
	if c.match(token.Semicolon) {
		c.emitReturn()
		return
	}
	if c.unit.fnType == typeInitializer {
		c.error("cannot return a value from an initializer")
	}
	c.expression()
	c.consume(token.Semicolon, "expected ';' after return value")
	c.emitOp(bytecode.OpReturn)
}

// includeStatement handles both forms: `include NAME;` binds a registered
// namespace to a global, and `include "file";` compiles another source file
// inline at global scope, gated by a path set to prevent cycles.
func (c *Compiler) includeStatement() {
	if c.match(token.String) {
		path := c.previous.Lexeme
		c.consume(token.Semicolon, "expected ';' after include")
		c.includeFile(path)
		return
	}
	c.consume(token.Identifier, "expected namespace name or file path after 'include'")
	name := c.identifierConstant(c.previous.Lexeme)
	c.consume(token.Semicolon, "expected ';' after include")
	c.emitOps(bytecode.OpInclude, name)
}

// includeFile pauses the current lexer, compiles path's source into the
// current global scope, and resumes.
func (c *Compiler) includeFile(path string) {
	if c.unit.scopeDepth > 0 || c.unit.fnType != typeScript {
		c.error("file includes are only allowed at top level")
		return
	}
	if c.includedPaths[path] {
		return // already compiled in; silently skip to break cycles
	}
	c.includedPaths[path] = true

	if c.loader == nil {
		c.error("cannot include file '" + path + "': no file loader configured")
		return
	}
	src, err := c.loader(path)
	if err != nil {
		c.error("cannot include file '" + path + "': " + err.Error())
		return
	}

	saved := c.lex.Save()
	savedCur, savedPrev := c.current, c.previous

	c.lex.SwitchSource(src)
	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}

	c.lex.Restore(saved)
	c.current, c.previous = savedCur, savedPrev
}

// ---- functions ----

func (c *Compiler) fnDeclaration() {
	global := c.parseVariable("expected function name", false)
	name := c.previous.Lexeme
	c.markInitialized()
	c.compileFunction(typeFunction, name)
	c.defineVariable(global, name, false)
}

// compileFunction compiles a parameter list and body (block or arrow form)
// into a new Function, then emits it as a constant in the enclosing chunk.
// Nested functions do not capture enclosing locals.
func (c *Compiler) compileFunction(ft funcType, name string) {
	c.beginUnit(ft, name)
	c.beginScope()

	c.consume(token.LeftParen, "expected '(' after function name")
	if !c.check(token.RightParen) {
		for {
			c.unit.function.Arity++
			if c.unit.function.Arity > maxArity {
				c.errorAtCurrent("cannot have more than 255 parameters")
			}
			c.parseVariable("expected parameter name", false)
			c.markInitialized()
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RightParen, "expected ')' after parameters")

	if c.match(token.Arrow) {
		// Arrow form implicitly returns its expression.
		if ft == typeInitializer {
			c.error("an initializer cannot use arrow form")
		}
		c.expression()
		c.consume(token.Semicolon, "expected ';' after arrow function body")
		c.emitOp(bytecode.OpReturn)
	} else {
		c.consume(token.LeftBrace, "expected '{' or '=>' before function body")
		c.block()
	}

	fn := c.endUnit()
	c.emitOps(bytecode.OpConstant, c.makeConstant(value.Object(fn)))
}

// ---- classes ----

// classDeclaration compiles `class NAME { members };`. The class object is
// created by OP_CLASS, bound to its global name, then pushed again so member
// opcodes can mutate it; a final OP_POP drops that working reference.
func (c *Compiler) classDeclaration() {
	c.consume(token.Identifier, "expected class name")
	className := c.previous.Lexeme
	nameIdx := c.identifierConstant(className)

	c.emitOps(bytecode.OpClass, nameIdx)
	c.emitOps(bytecode.OpDefineGlobal, nameIdx)
	c.emitOps(bytecode.OpGetGlobal, nameIdx)

	prevClass := c.currentClass
	c.currentClass = &value.Class{Name: className}
	defer func() { c.currentClass = prevClass }()

	c.consume(token.LeftBrace, "expected '{' before class body")
	for !c.check(token.RightBrace) && !c.check(token.EOF) {
		c.classMember()
	}
	c.consume(token.RightBrace, "expected '}' after class body")
	c.consume(token.Semicolon, "expected ';' after class declaration")

	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) classMember() {
	private := c.match(token.Private)

	switch {
	case c.match(token.Init):
		if private {
			c.error("an initializer cannot be private")
		}
		c.compileFunction(typeInitializer, "init")
		c.emitOp(bytecode.OpInitializer)
	case c.match(token.Fn):
		c.consume(token.Identifier, "expected method name")
		name := c.identifierConstant(c.previous.Lexeme)
		c.compileFunction(typeMethod, c.previous.Lexeme)
		c.emitOps(bytecode.OpMethod, name)
		c.emitByte(boolByte(private))
	case c.match(token.Identifier):
		name := c.identifierConstant(c.previous.Lexeme)
		c.consume(token.Equal, "expected '=' after property name")
		c.expression()
		c.consume(token.Semicolon, "expected ';' after property default")
		c.emitOps(bytecode.OpProperty, name)
		c.emitByte(boolByte(private))
	default:
		c.errorAtCurrent("expected property, method, or initializer in class body")
		c.advance()
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ---- expressions (Pratt) ----

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := rules[c.previous.Type]
	if rule.prefix == nil {
		c.error("expected expression")
		return
	}
	canAssign := prec <= precAssignment
	rule.prefix(c, canAssign)

	for prec <= rules[c.current.Type].prec {
		c.advance()
		rules[c.previous.Type].infix(c, canAssign)
	}

	if canAssign && c.match(token.Equal) {
		c.error("invalid assignment target")
	}
}

func number(c *Compiler, _ bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("invalid number literal")
		return
	}
	c.emitConstant(value.Number(n))
}

func stringLit(c *Compiler, _ bool) {
	s := c.arena.InternString(c.previous.Lexeme)
	c.emitConstant(value.Object(s))
}

func literal(c *Compiler, _ bool) {
	switch c.previous.Type {
	case token.False:
		c.emitOp(bytecode.OpFalse)
	case token.True:
		c.emitOp(bytecode.OpTrue)
	case token.Null:
		c.emitOp(bytecode.OpNull)
	}
}

func grouping(c *Compiler, _ bool) {
	c.expression()
	c.consume(token.RightParen, "expected ')' after expression")
}

func unary(c *Compiler, _ bool) {
	op := c.previous.Type
	c.parsePrecedence(precUnary)
	switch op {
	case token.Minus:
		c.emitOp(bytecode.OpNegate)
	case token.Bang:
		c.emitOp(bytecode.OpNot)
	}
}

func binary(c *Compiler, _ bool) {
	op := c.previous.Type
	rule := rules[op]
	c.parsePrecedence(rule.prec + 1)

	switch op {
	case token.Plus:
		c.emitOp(bytecode.OpAdd)
	case token.Minus:
		c.emitOp(bytecode.OpSubtract)
	case token.Star:
		c.emitOp(bytecode.OpMultiply)
	case token.Slash:
		c.emitOp(bytecode.OpDivide)
	case token.Percent:
		c.emitOp(bytecode.OpMod)
	case token.EqualEqual:
		c.emitOp(bytecode.OpEqual)
	case token.BangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case token.Greater:
		c.emitOp(bytecode.OpGreater)
	case token.GreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case token.Less:
		c.emitOp(bytecode.OpLess)
	case token.LessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	}
}

// and_ short-circuits: if the left operand is falsey it stays on the stack
// as the expression's value and the right operand is skipped.
func and_(c *Compiler, _ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func or_(c *Compiler, _ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func variable(c *Compiler, canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

// namedVariable compiles a read, write, compound write, or postfix
// increment/decrement of name, resolving locals first and falling back to
// globals.
func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	var operand byte
	isConst := false

	slot := c.resolveLocal(c.unit, name)
	if slot != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
		operand = byte(slot)
		isConst = c.localIsConst(slot)
	} else {
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		operand = c.identifierConstant(name)
		isConst = c.constGlobals[name]
	}

	switch {
	case canAssign && c.match(token.Equal):
		if isConst {
			c.error("cannot assign to const '" + name + "'")
			c.skipExpression()
			return
		}
		c.expression()
		c.emitOps(setOp, operand)
	case canAssign && c.matchCompound():
		op := compoundOp(c.previous.Type)
		if isConst {
			c.error("cannot assign to const '" + name + "'")
			c.skipExpression()
			return
		}
		c.emitOps(getOp, operand)
		c.expression()
		c.emitOp(op)
		c.emitOps(setOp, operand)
	case c.check(token.PlusPlus) || c.check(token.MinusMinus):
		if isConst {
			c.advance()
			c.error("cannot assign to const '" + name + "'")
			return
		}
		c.advance()
		op := bytecode.OpAdd
		if c.previous.Type == token.MinusMinus {
			op = bytecode.OpSubtract
		}
		c.emitOps(getOp, operand)
		c.emitConstant(value.Number(1))
		c.emitOp(op)
		c.emitOps(setOp, operand)
	default:
		c.emitOps(getOp, operand)
	}
}

// skipExpression parses and discards the right-hand side after a rejected
// const assignment, so the error doesn't leave ill-formed bytecode behind.
func (c *Compiler) skipExpression() {
	mark := c.chunk().Len()
	c.panicMode = false // allow further errors in the skipped expression
	c.expression()
	c.panicMode = true
	c.chunk().Code = c.chunk().Code[:mark]
	c.chunk().Lines = c.chunk().Lines[:mark]
	c.emitOp(bytecode.OpNull) // statement-level POP still needs an operand
}

func (c *Compiler) matchCompound() bool {
	switch c.current.Type {
	case token.PlusEqual, token.MinusEqual, token.StarEqual, token.SlashEqual, token.PercentEqual:
		c.advance()
		return true
	}
	return false
}

func compoundOp(t token.Type) bytecode.Opcode {
	switch t {
	case token.PlusEqual:
		return bytecode.OpAdd
	case token.MinusEqual:
		return bytecode.OpSubtract
	case token.StarEqual:
		return bytecode.OpMultiply
	case token.SlashEqual:
		return bytecode.OpDivide
	default:
		return bytecode.OpMod
	}
}

func this_(c *Compiler, _ bool) {
	if c.currentClass == nil {
		c.error("cannot use 'this' outside of a class")
		return
	}
	variable(c, false)
}

// call compiles the argument list of `callee(...)`.
func call(c *Compiler, _ bool) {
	argc := c.argumentList()
	c.emitOps(bytecode.OpCall, argc)
}

func (c *Compiler) argumentList() byte {
	var argc int
	if !c.check(token.RightParen) {
		for {
			c.expression()
			argc++
			if argc > maxArity {
				c.error("cannot have more than 255 arguments")
			}
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RightParen, "expected ')' after arguments")
	return byte(argc)
}

// dot compiles property access, property assignment, compound property
// assignment, and the fused get-and-call INVOKE form. The keyword `new` is
// accepted as a property name, so namespace entries such as `dict.new` are
// reachable.
func dot(c *Compiler, canAssign bool) {
	if !c.match(token.New) {
		c.consume(token.Identifier, "expected property name after '.'")
	}
	name := c.identifierConstant(c.previous.Lexeme)

	switch {
	case canAssign && c.match(token.Equal):
		c.expression()
		c.emitOps(bytecode.OpSetProperty, name)
	case canAssign && c.matchCompound():
		op := compoundOp(c.previous.Type)
		c.emitOp(bytecode.OpDup)
		c.emitOps(bytecode.OpGetProperty, name)
		c.expression()
		c.emitOp(op)
		c.emitOps(bytecode.OpSetProperty, name)
	case c.match(token.LeftParen):
		argc := c.argumentList()
		c.emitOps(bytecode.OpInvoke, name)
		c.emitByte(argc)
	default:
		c.emitOps(bytecode.OpGetProperty, name)
	}
}

// index compiles `recv[expr]` reads and writes.
func index(c *Compiler, canAssign bool) {
	c.expression()
	c.consume(token.RightBracket, "expected ']' after index")
	if canAssign && c.match(token.Equal) {
		c.expression()
		c.emitOp(bytecode.OpIndexSet)
		return
	}
	c.emitOp(bytecode.OpIndexGet)
}

func arrayLiteral(c *Compiler, _ bool) {
	var count int
	if !c.check(token.RightBracket) {
		for {
			c.expression()
			count++
			if count > 255 {
				c.error("array literal cannot have more than 255 elements")
			}
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RightBracket, "expected ']' after array elements")
	c.emitOps(bytecode.OpArrayNew, byte(count))
}

// dictLiteral compiles `{key: value, ...}`. Keys are identifiers or string
// literals; either way they become string constants.
func dictLiteral(c *Compiler, _ bool) {
	c.emitOp(bytecode.OpDictNew)
	if !c.check(token.RightBrace) {
		for {
			switch {
			case c.match(token.Identifier), c.match(token.String):
				key := c.arena.InternString(c.previous.Lexeme)
				c.emitConstant(value.Object(key))
			default:
				c.errorAtCurrent("expected dict key")
				c.advance()
			}
			c.consume(token.Colon, "expected ':' after dict key")
			c.expression()
			c.emitOp(bytecode.OpDictAdd)
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RightBrace, "expected '}' after dict entries")
}

// newExpr compiles `new ClassName(args)` (the class may be reached through
// dotted namespace access) into CALL_INIT.
func newExpr(c *Compiler, _ bool) {
	c.consume(token.Identifier, "expected class name after 'new'")
	c.namedVariable(c.previous.Lexeme, false)
	for c.match(token.Dot) {
		c.consume(token.Identifier, "expected name after '.'")
		c.emitOps(bytecode.OpGetProperty, c.identifierConstant(c.previous.Lexeme))
	}
	c.consume(token.LeftParen, "expected '(' after class name")
	argc := c.argumentList()
	c.emitOps(bytecode.OpCallInit, argc)
}

// isExpr compiles `value is TypeName`.
func isExpr(c *Compiler, _ bool) {
	c.consume(token.Identifier, "expected type name after 'is'")
	c.emitOps(bytecode.OpIsType, c.identifierConstant(c.previous.Lexeme))
}

// asExpr compiles `value as TypeName`.
func asExpr(c *Compiler, _ bool) {
	c.consume(token.Identifier, "expected type name after 'as'")
	c.emitOps(bytecode.OpCast, c.identifierConstant(c.previous.Lexeme))
}

// rules is the Pratt dispatch table, indexed by token type.
var rules map[token.Type]parseRule

func init() {
	rules = map[token.Type]parseRule{
		token.LeftParen:    {grouping, call, precCall},
		token.LeftBracket:  {arrayLiteral, index, precCall},
		token.LeftBrace:    {dictLiteral, nil, precNone},
		token.Dot:          {nil, dot, precCall},
		token.Minus:        {unary, binary, precTerm},
		token.Plus:         {nil, binary, precTerm},
		token.Slash:        {nil, binary, precFactor},
		token.Star:         {nil, binary, precFactor},
		token.Percent:      {nil, binary, precFactor},
		token.Bang:         {unary, nil, precNone},
		token.BangEqual:    {nil, binary, precEquality},
		token.EqualEqual:   {nil, binary, precEquality},
		token.Greater:      {nil, binary, precComparison},
		token.GreaterEqual: {nil, binary, precComparison},
		token.Less:         {nil, binary, precComparison},
		token.LessEqual:    {nil, binary, precComparison},
		token.Is:           {nil, isExpr, precComparison},
		token.As:           {nil, asExpr, precComparison},
		token.Identifier:   {variable, nil, precNone},
		token.String:       {stringLit, nil, precNone},
		token.Number:       {number, nil, precNone},
		token.And:          {nil, and_, precAnd},
		token.Or:           {nil, or_, precOr},
		token.True:         {literal, nil, precNone},
		token.False:        {literal, nil, precNone},
		token.Null:         {literal, nil, precNone},
		token.This:         {this_, nil, precNone},
		token.New:          {newExpr, nil, precNone},
	}
}
