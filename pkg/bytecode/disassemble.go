package bytecode

import (
	"fmt"
	"strings"

	"github.com/xenlang/xen/pkg/value"
)

// Disassemble renders every instruction in c as human-readable text under
// the given heading. Used by
// `xen disassemble` and by the debugger's `list` command.
func Disassemble(c *value.Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = disassembleInstruction(&b, c, offset)
	}
	return b.String()
}

// disassembleInstruction writes one instruction at offset and returns the
// offset of the next instruction.
func disassembleInstruction(b *strings.Builder, c *value.Chunk, offset int) int {
	fmt.Fprintf(b, "%04d ", offset)
	line := c.LineAt(offset)
	if offset > 0 && line == c.LineAt(offset-1) {
		b.WriteString("   | ")
	} else {
		fmt.Fprintf(b, "%4d ", line)
	}

	op := Opcode(c.Code[offset])
	switch op {
	case OpConstant, OpDefineGlobal, OpGetGlobal, OpSetGlobal, OpGetProperty, OpSetProperty, OpClass, OpInclude, OpIsType, OpCast:
		return constantInstruction(b, op, c, offset)
	case OpGetLocal, OpSetLocal, OpCall, OpCallInit, OpArrayNew:
		return byteInstruction(b, op, c, offset)
	case OpJump, OpJumpIfFalse:
		return jumpInstruction(b, op, c, offset, 1)
	case OpLoop:
		return jumpInstruction(b, op, c, offset, -1)
	case OpInvoke:
		return invokeInstruction(b, "INVOKE", c, offset)
	case OpProperty:
		return invokeInstruction(b, "PROPERTY", c, offset)
	case OpMethod:
		return invokeInstruction(b, "METHOD", c, offset)
	default:
		return simpleInstruction(b, op, offset)
	}
}

func simpleInstruction(b *strings.Builder, op Opcode, offset int) int {
	fmt.Fprintf(b, "%s\n", op)
	return offset + 1
}

func constantInstruction(b *strings.Builder, op Opcode, c *value.Chunk, offset int) int {
	idx := int(c.Code[offset+1])
	fmt.Fprintf(b, "%-16s %4d '%s'\n", op, idx, formatConstant(c.Constants[idx]))
	return offset + 2
}

func byteInstruction(b *strings.Builder, op Opcode, c *value.Chunk, offset int) int {
	operand := c.Code[offset+1]
	fmt.Fprintf(b, "%-16s %4d\n", op, operand)
	return offset + 2
}

func jumpInstruction(b *strings.Builder, op Opcode, c *value.Chunk, offset int, sign int) int {
	jump := int(c.ReadUint16(offset + 1))
	target := offset + 3 + sign*jump
	fmt.Fprintf(b, "%-16s %4d -> %d\n", op, offset, target)
	return offset + 3
}

func invokeInstruction(b *strings.Builder, name string, c *value.Chunk, offset int) int {
	nameIdx := int(c.Code[offset+1])
	arg := c.Code[offset+2]
	fmt.Fprintf(b, "%-16s %4d '%s' (%d)\n", name, nameIdx, formatConstant(c.Constants[nameIdx]), arg)
	return offset + 3
}

func formatConstant(v value.Value) string {
	return v.String()
}
