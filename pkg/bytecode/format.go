// On-disk "XENB" bytecode serialization.
//
// Layout (little-endian throughout):
//
//	'X' 'E' 'N' 'B'                 ; 4 magic bytes
//	u8  version = 1
//	u32 line_count
//	u32 entrypoint_name_length
//	u8[] entrypoint_name            ; not null-terminated
//	u32 arity
//	u32 constants_count
//	ConstantEntry[constants_count]
//	u32 bytecode_size
//	u8[bytecode_size]
//
// ConstantEntry:
//
//	u8 typeid
//	u32 value_len
//	u8[value_len]   ; Bool: 1 byte; Number: 8 bytes; String: u32 len + bytes;
//	                ; Function: a nested name/arity/constants/bytecode block
//	                ; (extension: needed because `fn` declarations may
//	                ; appear as constants for later DEFINE_GLOBAL binding)
package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xenlang/xen/pkg/value"
)

const (
	magic         = "XENB"
	formatVersion = 1
)

const (
	ctBool     = 0
	ctNull     = 1
	ctNumber   = 2
	ctString   = 100
	ctFunction = 101
)

// Encode serializes fn (the compiled top-level script function) into the
// XENB binary format.
func Encode(fn *value.Function) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatVersion)
	writeUint32(&buf, uint32(len(fn.Chunk.Lines)))
	writeString32(&buf, fn.Name)
	writeUint32(&buf, uint32(fn.Arity))
	if err := encodeConstants(&buf, fn.Chunk.Constants); err != nil {
		return nil, err
	}
	writeUint32(&buf, uint32(len(fn.Chunk.Code)))
	buf.Write(fn.Chunk.Code)
	return buf.Bytes(), nil
}

// Decode deserializes a XENB blob produced by Encode back into a Function.
// Decode does not intern string constants into any Arena: each decoded
// String constant is a fresh object, equal by content to an interned string
// but not the same pointer.
func Decode(data []byte) (*value.Function, error) {
	r := bytes.NewReader(data)
	var hdr [4]byte
	if _, err := r.Read(hdr[:]); err != nil || string(hdr[:]) != magic {
		return nil, fmt.Errorf("bytecode: invalid magic")
	}
	version, err := r.ReadByte()
	if err != nil || version != formatVersion {
		return nil, fmt.Errorf("bytecode: unsupported version %d", version)
	}
	if _, err := readUint32(r); err != nil { // line_count: informational only
		return nil, err
	}
	name, err := readString32(r)
	if err != nil {
		return nil, err
	}
	arity, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	constants, err := decodeConstants(r)
	if err != nil {
		return nil, err
	}
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	code := make([]byte, size)
	if size > 0 {
		if _, err := r.Read(code); err != nil {
			return nil, fmt.Errorf("bytecode: truncated instruction stream: %w", err)
		}
	}
	lines := make([]int, size)
	chunk := &value.Chunk{Code: code, Lines: lines, Constants: constants}
	return &value.Function{Name: name, Arity: int(arity), Chunk: chunk}, nil
}

func encodeConstants(buf *bytes.Buffer, constants []value.Value) error {
	writeUint32(buf, uint32(len(constants)))
	for _, c := range constants {
		if err := encodeConstant(buf, c); err != nil {
			return err
		}
	}
	return nil
}

func encodeConstant(buf *bytes.Buffer, c value.Value) error {
	switch {
	case c.IsBool():
		buf.WriteByte(ctBool)
		writeUint32(buf, 1)
		if c.AsBool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case c.IsNull():
		buf.WriteByte(ctNull)
		writeUint32(buf, 0)
	case c.IsNumber():
		buf.WriteByte(ctNumber)
		writeUint32(buf, 8)
		writeFloat64(buf, c.AsNumber())
	case c.IsObject():
		switch obj := c.AsObject().(type) {
		case *value.String:
			buf.WriteByte(ctString)
			writeUint32(buf, uint32(4+len(obj.Value)))
			writeString32(buf, obj.Value)
		case *value.Function:
			var nested bytes.Buffer
			writeString32(&nested, obj.Name)
			writeUint32(&nested, uint32(obj.Arity))
			if err := encodeConstants(&nested, obj.Chunk.Constants); err != nil {
				return err
			}
			writeUint32(&nested, uint32(len(obj.Chunk.Code)))
			nested.Write(obj.Chunk.Code)
			buf.WriteByte(ctFunction)
			writeUint32(buf, uint32(nested.Len()))
			buf.Write(nested.Bytes())
		default:
			return fmt.Errorf("bytecode: constant of kind %s is not serializable", value.TypeName(c))
		}
	default:
		return fmt.Errorf("bytecode: unrecognized constant kind")
	}
	return nil
}

func decodeConstants(r *bytes.Reader) ([]value.Value, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := decodeConstant(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeConstant(r *bytes.Reader) (value.Value, error) {
	typeID, err := r.ReadByte()
	if err != nil {
		return value.Value{}, err
	}
	length, err := readUint32(r)
	if err != nil {
		return value.Value{}, err
	}
	switch typeID {
	case ctBool:
		b, err := r.ReadByte()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b != 0), nil
	case ctNull:
		return value.Null, nil
	case ctNumber:
		f, err := readFloat64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.Number(f), nil
	case ctString:
		s, err := readString32(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.Object(&value.String{Value: s, Hash: value.FNV1a32(s)}), nil
	case ctFunction:
		payload := make([]byte, length)
		if length > 0 {
			if _, err := r.Read(payload); err != nil {
				return value.Value{}, err
			}
		}
		nr := bytes.NewReader(payload)
		name, err := readString32(nr)
		if err != nil {
			return value.Value{}, err
		}
		arity, err := readUint32(nr)
		if err != nil {
			return value.Value{}, err
		}
		constants, err := decodeConstants(nr)
		if err != nil {
			return value.Value{}, err
		}
		size, err := readUint32(nr)
		if err != nil {
			return value.Value{}, err
		}
		code := make([]byte, size)
		if size > 0 {
			if _, err := nr.Read(code); err != nil {
				return value.Value{}, err
			}
		}
		fn := &value.Function{Name: name, Arity: int(arity), Chunk: &value.Chunk{
			Code: code, Lines: make([]int, size), Constants: constants,
		}}
		return value.Object(fn), nil
	default:
		return value.Value{}, fmt.Errorf("bytecode: unknown constant typeid %d", typeID)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

func writeString32(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
}

func readString32(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
