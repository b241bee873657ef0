// Package bytecode defines Xen's opcode set and provides a disassembler and
// the on-disk "XENB" serialization format for compiled chunks (see format.go and disassemble.go). It depends on pkg/value for Chunk/Value but is not depended on
// by value, keeping the two in a strict one-way relationship.
package bytecode

// Opcode identifies a single bytecode instruction. All opcodes are a single
// byte; any operands are immediate bytes that follow in the chunk's code
// array.
type Opcode byte

const (
	OpConstant Opcode = iota // 1 byte operand: constant pool index
	OpNull
	OpTrue
	OpFalse
	OpNot
	OpNegate
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpMod
	OpPop
	OpDefineGlobal // 1 byte operand: constant pool index (name)
	OpGetGlobal    // 1 byte operand: constant pool index (name)
	OpSetGlobal    // 1 byte operand: constant pool index (name)
	OpGetLocal     // 1 byte operand: frame-relative slot
	OpSetLocal     // 1 byte operand: frame-relative slot
	OpJump         // 2 byte operand: big-endian forward offset
	OpJumpIfFalse  // 2 byte operand: big-endian forward offset
	OpLoop         // 2 byte operand: big-endian backward offset
	OpCall         // 1 byte operand: argument count
	OpCallInit     // 1 byte operand: argument count
	OpInvoke       // 1 byte name constant index + 1 byte argument count
	OpGetProperty  // 1 byte operand: constant pool index (name)
	OpSetProperty  // 1 byte operand: constant pool index (name)
	OpIndexGet
	OpIndexSet
	OpArrayNew // 1 byte operand: element count
	OpArrayLen
	OpDictNew
	OpDictAdd
	OpClass       // 1 byte operand: constant pool index (name)
	OpProperty    // 1 byte name constant index + 1 byte private flag
	OpMethod      // 1 byte name constant index + 1 byte private flag
	OpInitializer
	OpInclude // 1 byte operand: constant pool index (namespace name)
	OpIsType  // 1 byte operand: constant pool index (type name)
	OpCast    // 1 byte operand: constant pool index (type name)
	OpReturn
	OpDup
)

var opcodeNames = map[Opcode]string{
	OpConstant:     "CONSTANT",
	OpNull:         "NULL",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpNot:          "NOT",
	OpNegate:       "NEGATE",
	OpEqual:        "EQUAL",
	OpGreater:      "GREATER",
	OpLess:         "LESS",
	OpAdd:          "ADD",
	OpSubtract:     "SUBTRACT",
	OpMultiply:     "MULTIPLY",
	OpDivide:       "DIVIDE",
	OpMod:          "MOD",
	OpPop:          "POP",
	OpDefineGlobal: "DEFINE_GLOBAL",
	OpGetGlobal:    "GET_GLOBAL",
	OpSetGlobal:    "SET_GLOBAL",
	OpGetLocal:     "GET_LOCAL",
	OpSetLocal:     "SET_LOCAL",
	OpJump:         "JUMP",
	OpJumpIfFalse:  "JUMP_IF_FALSE",
	OpLoop:         "LOOP",
	OpCall:         "CALL",
	OpCallInit:     "CALL_INIT",
	OpInvoke:       "INVOKE",
	OpGetProperty:  "GET_PROPERTY",
	OpSetProperty:  "SET_PROPERTY",
	OpIndexGet:     "INDEX_GET",
	OpIndexSet:     "INDEX_SET",
	OpArrayNew:     "ARRAY_NEW",
	OpArrayLen:     "ARRAY_LEN",
	OpDictNew:      "DICT_NEW",
	OpDictAdd:      "DICT_ADD",
	OpClass:        "CLASS",
	OpProperty:     "PROPERTY",
	OpMethod:       "METHOD",
	OpInitializer:  "INITIALIZER",
	OpInclude:      "INCLUDE",
	OpIsType:       "IS_TYPE",
	OpCast:         "CAST",
	OpReturn:       "RETURN",
	OpDup:          "DUP",
}

// String returns the human-readable mnemonic for op, or "UNKNOWN" for an
// unrecognized byte.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
