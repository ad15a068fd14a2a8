package types

import (
	"strconv"
)

// Form is a DWARF attribute encoding (DW_FORM_*).
type Form uint16

const (
	FormAddr        Form = 0x01
	FormBlock2      Form = 0x03
	FormBlock4      Form = 0x04
	FormData2       Form = 0x05
	FormData4       Form = 0x06
	FormData8       Form = 0x07
	FormString      Form = 0x08
	FormBlock       Form = 0x09
	FormBlock1      Form = 0x0a
	FormData1       Form = 0x0b
	FormFlag        Form = 0x0c
	FormSdata       Form = 0x0d
	FormStrp        Form = 0x0e
	FormUdata       Form = 0x0f
	FormRefAddr     Form = 0x10
	FormRef1        Form = 0x11
	FormRef2        Form = 0x12
	FormRef4        Form = 0x13
	FormRef8        Form = 0x14
	FormRefUdata    Form = 0x15
	FormIndirect    Form = 0x16
	FormSecOffset   Form = 0x17
	FormExprloc     Form = 0x18
	FormFlagPresent Form = 0x19
	FormRefSig8     Form = 0x20

	// GNU extensions used by split DWARF 4.
	FormGNUAddrIndex Form = 0x1f01
	FormGNUStrIndex  Form = 0x1f02
	FormGNURefAlt    Form = 0x1f20
	FormGNUStrpAlt   Form = 0x1f21
)

var formStrings = []intName{
	{uint32(FormAddr), "DW_FORM_addr"},
	{uint32(FormBlock2), "DW_FORM_block2"},
	{uint32(FormBlock4), "DW_FORM_block4"},
	{uint32(FormData2), "DW_FORM_data2"},
	{uint32(FormData4), "DW_FORM_data4"},
	{uint32(FormData8), "DW_FORM_data8"},
	{uint32(FormString), "DW_FORM_string"},
	{uint32(FormBlock), "DW_FORM_block"},
	{uint32(FormBlock1), "DW_FORM_block1"},
	{uint32(FormData1), "DW_FORM_data1"},
	{uint32(FormFlag), "DW_FORM_flag"},
	{uint32(FormSdata), "DW_FORM_sdata"},
	{uint32(FormStrp), "DW_FORM_strp"},
	{uint32(FormUdata), "DW_FORM_udata"},
	{uint32(FormRefAddr), "DW_FORM_ref_addr"},
	{uint32(FormRef1), "DW_FORM_ref1"},
	{uint32(FormRef2), "DW_FORM_ref2"},
	{uint32(FormRef4), "DW_FORM_ref4"},
	{uint32(FormRef8), "DW_FORM_ref8"},
	{uint32(FormRefUdata), "DW_FORM_ref_udata"},
	{uint32(FormIndirect), "DW_FORM_indirect"},
	{uint32(FormSecOffset), "DW_FORM_sec_offset"},
	{uint32(FormExprloc), "DW_FORM_exprloc"},
	{uint32(FormFlagPresent), "DW_FORM_flag_present"},
	{uint32(FormRefSig8), "DW_FORM_ref_sig8"},
	{uint32(FormGNUAddrIndex), "DW_FORM_GNU_addr_index"},
	{uint32(FormGNUStrIndex), "DW_FORM_GNU_str_index"},
	{uint32(FormGNURefAlt), "DW_FORM_GNU_ref_alt"},
	{uint32(FormGNUStrpAlt), "DW_FORM_GNU_strp_alt"},
}

func (f Form) String() string   { return stringName(uint32(f), formStrings, false) }
func (f Form) GoString() string { return stringName(uint32(f), formStrings, true) }

// Class is the value class a form decodes to.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassAddress
	ClassAddrIndex
	ClassBlock
	ClassConstant
	ClassExprloc
	ClassFlag
	ClassReference
	ClassSectionOffset
	ClassString
)

// Class returns the value class of the form as used by DWARF 4.
// data4 and data8 are treated as constants; callers that need the
// DWARF 3 section-offset reading must check the attribute themselves.
func (f Form) Class() Class {
	switch f {
	case FormAddr:
		return ClassAddress
	case FormGNUAddrIndex:
		return ClassAddrIndex
	case FormBlock, FormBlock1, FormBlock2, FormBlock4:
		return ClassBlock
	case FormData1, FormData2, FormData4, FormData8, FormSdata, FormUdata:
		return ClassConstant
	case FormExprloc:
		return ClassExprloc
	case FormFlag, FormFlagPresent:
		return ClassFlag
	case FormRef1, FormRef2, FormRef4, FormRef8, FormRefUdata, FormRefAddr, FormRefSig8, FormGNURefAlt:
		return ClassReference
	case FormSecOffset:
		return ClassSectionOffset
	case FormString, FormStrp, FormGNUStrIndex, FormGNUStrpAlt:
		return ClassString
	}
	return ClassUnknown
}

// FixedSize returns the encoded size of a fixed-width form in a DWARF32 unit.
func (f Form) FixedSize(addrSize int, version uint16) (int, bool) {
	switch f {
	case FormAddr:
		return addrSize, true
	case FormData1, FormRef1, FormFlag:
		return 1, true
	case FormData2, FormRef2:
		return 2, true
	case FormData4, FormRef4, FormStrp, FormSecOffset, FormGNURefAlt, FormGNUStrpAlt:
		return 4, true
	case FormData8, FormRef8, FormRefSig8:
		return 8, true
	case FormFlagPresent:
		return 0, true
	case FormRefAddr:
		// DWARF 2 encodes ref_addr with the address size.
		if version <= 2 {
			return addrSize, true
		}
		return 4, true
	}
	return 0, false
}

// IsHighPCEightBytes reports whether a DW_AT_high_pc of this form occupies 8 bytes.
func IsHighPCEightBytes(f Form) bool {
	return f == FormAddr || f == FormData8
}

type intName struct {
	i uint32
	s string
}

func stringName(i uint32, names []intName, goSyntax bool) string {
	for _, n := range names {
		if n.i == i {
			if goSyntax {
				return "types." + n.s
			}
			return n.s
		}
	}
	return "0x" + strconv.FormatUint(uint64(i), 16)
}
