package types

import (
	"encoding/binary"
	"fmt"
)

// Op is a DWARF expression opcode (DW_OP_*).
type Op uint8

const (
	OpAddr             Op = 0x03
	OpConst1u          Op = 0x08
	OpConst1s          Op = 0x09
	OpConst2u          Op = 0x0a
	OpConst2s          Op = 0x0b
	OpConst4u          Op = 0x0c
	OpConst4s          Op = 0x0d
	OpConst8u          Op = 0x0e
	OpConst8s          Op = 0x0f
	OpConstu           Op = 0x10
	OpConsts           Op = 0x11
	OpPick             Op = 0x15
	OpPlusUconst       Op = 0x23
	OpBra              Op = 0x28
	OpSkip             Op = 0x2f
	OpBreg0            Op = 0x70
	OpBreg31           Op = 0x8f
	OpRegx             Op = 0x90
	OpFbreg            Op = 0x91
	OpBregx            Op = 0x92
	OpPiece            Op = 0x93
	OpDerefSize        Op = 0x94
	OpXderefSize       Op = 0x95
	OpCall2            Op = 0x98
	OpCall4            Op = 0x99
	OpCallRef          Op = 0x9a
	OpBitPiece         Op = 0x9d
	OpImplicitValue    Op = 0x9e
	OpImplicitPointer  Op = 0xa0
	OpAddrx            Op = 0xa1
	OpConstx           Op = 0xa2
	OpEntryValue       Op = 0xa3
	OpConstType        Op = 0xa4
	OpRegvalType       Op = 0xa5
	OpDerefType        Op = 0xa6
	OpXderefType       Op = 0xa7
	OpConvert          Op = 0xa8
	OpReinterpret      Op = 0xa9
	OpGNUImplicitPtr   Op = 0xf2
	OpGNUEntryValue    Op = 0xf3
	OpGNUConstType     Op = 0xf4
	OpGNURegvalType    Op = 0xf5
	OpGNUDerefType     Op = 0xf6
	OpGNUConvert       Op = 0xf7
	OpGNUReinterpret   Op = 0xf9
	OpGNUParameterRef  Op = 0xfa
	OpGNUAddrIndex     Op = 0xfb
	OpGNUConstIndex    Op = 0xfc
	OpGNUVariableValue Op = 0xfd
)

// ExprOp is one decoded expression operation. Offset is the position of the
// opcode inside the expression; Operand holds the first operand when it is
// an integer.
type ExprOp struct {
	Op      Op
	Offset  int
	Operand uint64
}

// WalkExpression decodes expr and calls fn for every operation until fn
// returns false.
func WalkExpression(expr []byte, addrSize int, fn func(ExprOp) bool) error {
	for off := 0; off < len(expr); {
		op := ExprOp{Op: Op(expr[off]), Offset: off}
		n, err := operandSize(expr[off+1:], op.Op, addrSize, &op.Operand)
		if err != nil {
			return fmt.Errorf("failed to decode DW_OP %#x at %#x: %v", uint8(op.Op), off, err)
		}
		if !fn(op) {
			return nil
		}
		off += 1 + n
	}
	return nil
}

func fixed(buf []byte, size int, operand *uint64) (int, error) {
	if len(buf) < size {
		return 0, fmt.Errorf("truncated operand")
	}
	switch size {
	case 1:
		*operand = uint64(buf[0])
	case 2:
		*operand = uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		*operand = uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		*operand = binary.LittleEndian.Uint64(buf)
	}
	return size, nil
}

func uleb(buf []byte, operand *uint64) (int, error) {
	v, n, err := Uleb128(buf)
	if err != nil {
		return 0, err
	}
	*operand = v
	return n, nil
}

func sleb(buf []byte, operand *uint64) (int, error) {
	v, n, err := Sleb128(buf)
	if err != nil {
		return 0, err
	}
	*operand = uint64(v)
	return n, nil
}

// chain decodes a sequence of operand readers and returns the total size.
func chain(buf []byte, operand *uint64, readers ...func([]byte, *uint64) (int, error)) (int, error) {
	total := 0
	var scratch uint64
	for i, r := range readers {
		dst := &scratch
		if i == 0 {
			dst = operand
		}
		n, err := r(buf[total:], dst)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func size(n int) func([]byte, *uint64) (int, error) {
	return func(buf []byte, v *uint64) (int, error) { return fixed(buf, n, v) }
}

// block reads a ULEB128 length followed by that many bytes.
func block(buf []byte, v *uint64) (int, error) {
	l, n, err := Uleb128(buf)
	if err != nil {
		return 0, err
	}
	if uint64(len(buf)-n) < l {
		return 0, fmt.Errorf("truncated block")
	}
	*v = l
	return n + int(l), nil
}

// block1 reads a one byte length followed by that many bytes.
func block1(buf []byte, v *uint64) (int, error) {
	if len(buf) < 1 || len(buf)-1 < int(buf[0]) {
		return 0, fmt.Errorf("truncated block")
	}
	*v = uint64(buf[0])
	return 1 + int(buf[0]), nil
}

func operandSize(buf []byte, op Op, addrSize int, operand *uint64) (int, error) {
	switch {
	case op >= OpBreg0 && op <= OpBreg31:
		return sleb(buf, operand)
	}
	switch op {
	case OpAddr:
		return fixed(buf, addrSize, operand)
	case OpConst1u, OpConst1s, OpPick, OpDerefSize, OpXderefSize:
		return fixed(buf, 1, operand)
	case OpConst2u, OpConst2s, OpBra, OpSkip, OpCall2:
		return fixed(buf, 2, operand)
	case OpConst4u, OpConst4s, OpCall4, OpCallRef, OpGNUParameterRef, OpGNUVariableValue:
		return fixed(buf, 4, operand)
	case OpConst8u, OpConst8s:
		return fixed(buf, 8, operand)
	case OpConstu, OpPlusUconst, OpRegx, OpPiece, OpAddrx, OpConstx, OpConvert,
		OpReinterpret, OpGNUConvert, OpGNUReinterpret, OpGNUAddrIndex, OpGNUConstIndex:
		return uleb(buf, operand)
	case OpConsts, OpFbreg:
		return sleb(buf, operand)
	case OpBregx:
		return chain(buf, operand, uleb, sleb)
	case OpBitPiece, OpRegvalType, OpGNURegvalType:
		return chain(buf, operand, uleb, uleb)
	case OpImplicitValue, OpEntryValue, OpGNUEntryValue:
		return block(buf, operand)
	case OpImplicitPointer, OpGNUImplicitPtr:
		return chain(buf, operand, size(4), sleb)
	case OpConstType, OpGNUConstType:
		return chain(buf, operand, uleb, block1)
	case OpDerefType, OpXderefType, OpGNUDerefType:
		return chain(buf, operand, size(1), uleb)
	}
	return 0, nil
}
