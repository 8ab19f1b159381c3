package sml

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Type is the SML element type encoded in bits 6-4 of a type-length byte.
type Type uint8

// Element types
const (
	TypeOctetString  Type = 0x0
	TypeBoolean      Type = 0x4
	TypeInteger      Type = 0x5
	TypeUnsigned     Type = 0x6
	TypeList         Type = 0x7
	TypeEndOfMessage Type = 0xff // synthetic, the 0x00 marker byte
)

func (t Type) String() string {
	switch t {
	case TypeOctetString:
		return "octet_string"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeUnsigned:
		return "unsigned"
	case TypeList:
		return "list"
	case TypeEndOfMessage:
		return "end_of_message"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint8(t))
	}
}

const (
	tlMoreFlag  = 0x80
	tlTypeMask  = 0x70
	tlLenMask   = 0x0f
	maxTLBytes  = 4
	maxDepth    = 16
	absentValue = 0x01 // zero-length octet string marks an omitted OPTIONAL
)

// Element is one decoded node of the SML element tree.
type Element struct {
	Type   Type
	Absent bool // OPTIONAL field not present (encoded as 0x01)
	Bytes  []byte
	Int    int64
	Uint   uint64
	Bool   bool
	List   []Element
	Offset int // offset of the type-length field
}

// String renders the element tree for debugging.
func (e Element) String() string {
	var sb strings.Builder
	e.write(&sb, 0)
	return sb.String()
}

func (e Element) write(sb *strings.Builder, indent int) {
	pad := strings.Repeat("  ", indent)
	switch {
	case e.Absent:
		sb.WriteString(pad + "<absent>\n")
	case e.Type == TypeList:
		fmt.Fprintf(sb, "%slist[%d]\n", pad, len(e.List))
		for _, child := range e.List {
			child.write(sb, indent+1)
		}
	case e.Type == TypeOctetString:
		fmt.Fprintf(sb, "%soctets %s\n", pad, hex.EncodeToString(e.Bytes))
	case e.Type == TypeInteger:
		fmt.Fprintf(sb, "%sint %d\n", pad, e.Int)
	case e.Type == TypeUnsigned:
		fmt.Fprintf(sb, "%suint %d\n", pad, e.Uint)
	case e.Type == TypeBoolean:
		fmt.Fprintf(sb, "%sbool %v\n", pad, e.Bool)
	case e.Type == TypeEndOfMessage:
		sb.WriteString(pad + "end\n")
	}
}

// ParseElement decodes the element starting at offset off and returns it
// together with the offset of the following element.
func ParseElement(data []byte, off int) (Element, int, error) {
	return parseElement(data, off, 0)
}

func parseElement(data []byte, off, depth int) (Element, int, error) {
	if depth > maxDepth {
		return Element{}, off, decodeErrorf(off, "nesting deeper than %d", maxDepth)
	}
	if off >= len(data) {
		return Element{}, off, decodeErrorf(off, "truncated: expected element")
	}

	first := data[off]
	if first == 0x00 {
		return Element{Type: TypeEndOfMessage, Offset: off}, off + 1, nil
	}

	typ := Type((first & tlTypeMask) >> 4)
	length := int(first & tlLenMask)
	tlLen := 1
	for b := first; b&tlMoreFlag != 0; tlLen++ {
		if tlLen >= maxTLBytes {
			return Element{}, off, decodeErrorf(off, "type-length field longer than %d bytes", maxTLBytes)
		}
		if off+tlLen >= len(data) {
			return Element{}, off, decodeErrorf(off, "truncated type-length field")
		}
		b = data[off+tlLen]
		if b&tlTypeMask != 0 {
			return Element{}, off, decodeErrorf(off+tlLen, "invalid type-length continuation 0x%02x", b)
		}
		length = length<<4 | int(b&tlLenMask)
	}

	el := Element{Type: typ, Offset: off}

	if typ == TypeList {
		next := off + tlLen
		el.List = make([]Element, 0, length)
		for i := 0; i < length; i++ {
			child, after, err := parseElement(data, next, depth+1)
			if err != nil {
				return Element{}, off, err
			}
			el.List = append(el.List, child)
			next = after
		}
		return el, next, nil
	}

	if length < tlLen {
		return Element{}, off, decodeErrorf(off, "length %d shorter than type-length field", length)
	}
	end := off + length
	if end > len(data) {
		return Element{}, off, decodeErrorf(off, "%s of %d bytes overruns frame (%d left)", typ, length, len(data)-off)
	}
	content := data[off+tlLen : end]

	switch typ {
	case TypeOctetString:
		if first == absentValue {
			el.Absent = true
		}
		el.Bytes = content
	case TypeBoolean:
		if len(content) != 1 {
			return Element{}, off, decodeErrorf(off, "boolean of %d bytes", len(content))
		}
		el.Bool = content[0] != 0
	case TypeInteger, TypeUnsigned:
		if len(content) == 0 || len(content) > 8 {
			return Element{}, off, decodeErrorf(off, "%s of %d bytes", typ, len(content))
		}
		var u uint64
		for _, b := range content {
			u = u<<8 | uint64(b)
		}
		if typ == TypeUnsigned {
			el.Uint = u
		} else {
			shift := uint(64 - 8*len(content))
			el.Int = int64(u<<shift) >> shift
		}
	default:
		return Element{}, off, decodeErrorf(off, "unexpected type tag 0x%02x", first)
	}

	return el, end, nil
}
