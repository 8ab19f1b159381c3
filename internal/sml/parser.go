package sml

import (
	"encoding/hex"
	"fmt"
	"math"
)

// SML message body tags
const (
	MsgOpenResponse       = 0x00000101
	MsgCloseResponse      = 0x00000201
	MsgGetProfileResponse = 0x00000401
	MsgGetListResponse    = 0x00000701
	MsgAttentionResponse  = 0x0000ff01
)

// Field counts of the SML structures we walk
const (
	messageFields     = 6 // transactionId, groupNo, abortOnError, body, crc16, endOfSmlMsg
	bodyFields        = 2 // tag, choice
	getListFields     = 7 // clientId, serverId, listName, actSensorTime, valList, listSignature, actGatewayTime
	listEntryFields   = 7 // objName, status, valTime, unit, scaler, value, valueSignature
	getListValListIdx = 4
	obisCodeLen       = 6
)

// Value is the typed payload of a list entry.
type Value struct {
	Type  Type // TypeInteger, TypeUnsigned, TypeOctetString or TypeBoolean
	Int   int64
	Bytes []byte
	Bool  bool
}

// IsNumeric reports whether the value is an integer.
func (v Value) IsNumeric() bool {
	return v.Type == TypeInteger || v.Type == TypeUnsigned
}

func (v Value) String() string {
	switch v.Type {
	case TypeOctetString:
		return hex.EncodeToString(v.Bytes)
	case TypeBoolean:
		return fmt.Sprintf("%v", v.Bool)
	default:
		return fmt.Sprintf("%d", v.Int)
	}
}

// Entry is one measurement channel decoded from a GetListResponse.
type Entry struct {
	// Code is the OBIS identifier as 12 lowercase hex characters,
	// e.g. "0100100700ff".
	Code   string
	Value  Value
	Scaler *int8  // power-of-ten exponent, nil when absent
	Unit   *uint8 // DLMS unit code, nil when absent
	Status *uint64
}

func (e Entry) String() string {
	s := fmt.Sprintf("Entry{code=%s, value=%s", e.Code, e.Value)
	if e.Scaler != nil {
		s += fmt.Sprintf(", scaler=%d", *e.Scaler)
	}
	if e.Unit != nil {
		s += fmt.Sprintf(", unit=%s", UnitName(*e.Unit))
	}
	return s + "}"
}

// Decode parses a validated frame into its list entries, in frame order.
func Decode(f *Frame) ([]Entry, error) {
	if f == nil {
		return nil, decodeErrorf(0, "nil frame")
	}
	return DecodeMessages(f.Payload)
}

// DecodeMessages parses a sequence of SML messages. Entries of every
// GetListResponse are returned in order; other message types are skipped.
// Duplicate codes are preserved.
func DecodeMessages(data []byte) ([]Entry, error) {
	var entries []Entry
	off := 0
	for off < len(data) {
		// Meters pad inside the frame as well as through the fill count.
		if data[off] == 0x00 {
			off++
			continue
		}

		msg, next, err := parseElement(data, off, 0)
		if err != nil {
			return nil, err
		}
		list, err := parseMessage(msg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, list...)
		off = next
	}
	return entries, nil
}

func parseMessage(msg Element) ([]Entry, error) {
	if msg.Type != TypeList || len(msg.List) != messageFields {
		return nil, decodeErrorf(msg.Offset, "message: want list of %d, got %s[%d]", messageFields, msg.Type, len(msg.List))
	}
	if end := msg.List[messageFields-1]; end.Type != TypeEndOfMessage {
		return nil, decodeErrorf(end.Offset, "message: missing end-of-message marker")
	}

	body := msg.List[3]
	if body.Type != TypeList || len(body.List) != bodyFields {
		return nil, decodeErrorf(body.Offset, "message body: want list of %d, got %s[%d]", bodyFields, body.Type, len(body.List))
	}
	tagEl := body.List[0]
	if tagEl.Type != TypeUnsigned {
		return nil, decodeErrorf(tagEl.Offset, "message tag: want unsigned, got %s", tagEl.Type)
	}

	switch tagEl.Uint {
	case MsgGetListResponse:
		return parseGetListResponse(body.List[1])
	default:
		return nil, nil
	}
}

func parseGetListResponse(el Element) ([]Entry, error) {
	if el.Type != TypeList || len(el.List) != getListFields {
		return nil, decodeErrorf(el.Offset, "GetListResponse: want list of %d, got %s[%d]", getListFields, el.Type, len(el.List))
	}
	valList := el.List[getListValListIdx]
	if valList.Type != TypeList {
		return nil, decodeErrorf(valList.Offset, "valList: want list, got %s", valList.Type)
	}

	entries := make([]Entry, 0, len(valList.List))
	for _, item := range valList.List {
		entry, ok, err := parseListEntry(item)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// parseListEntry decodes one SML_ListEntry. Entries with an absent value are
// reported with ok=false.
func parseListEntry(el Element) (Entry, bool, error) {
	if el.Type != TypeList || len(el.List) != listEntryFields {
		return Entry{}, false, decodeErrorf(el.Offset, "list entry: want list of %d, got %s[%d]", listEntryFields, el.Type, len(el.List))
	}

	name := el.List[0]
	if name.Type != TypeOctetString || len(name.Bytes) != obisCodeLen {
		return Entry{}, false, decodeErrorf(name.Offset, "objName: want %d-byte octet string, got %s of %d", obisCodeLen, name.Type, len(name.Bytes))
	}
	entry := Entry{Code: hex.EncodeToString(name.Bytes)}

	if status := el.List[1]; !status.Absent {
		switch status.Type {
		case TypeUnsigned:
			v := status.Uint
			entry.Status = &v
		case TypeInteger:
			v := uint64(status.Int)
			entry.Status = &v
		default:
			return Entry{}, false, decodeErrorf(status.Offset, "status: unexpected %s", status.Type)
		}
	}

	if unit := el.List[3]; !unit.Absent {
		if unit.Type != TypeUnsigned || unit.Uint > math.MaxUint8 {
			return Entry{}, false, decodeErrorf(unit.Offset, "unit: want unsigned8, got %s", unit.Type)
		}
		u := uint8(unit.Uint)
		entry.Unit = &u
	}

	if scaler := el.List[4]; !scaler.Absent {
		if scaler.Type != TypeInteger || scaler.Int < math.MinInt8 || scaler.Int > math.MaxInt8 {
			return Entry{}, false, decodeErrorf(scaler.Offset, "scaler: want integer8, got %s", scaler.Type)
		}
		s := int8(scaler.Int)
		entry.Scaler = &s
	}

	value := el.List[5]
	if value.Absent {
		return Entry{}, false, nil
	}
	switch value.Type {
	case TypeInteger:
		entry.Value = Value{Type: TypeInteger, Int: value.Int}
	case TypeUnsigned:
		if value.Uint > math.MaxInt64 {
			return Entry{}, false, decodeErrorf(value.Offset, "value %d exceeds int64", value.Uint)
		}
		entry.Value = Value{Type: TypeUnsigned, Int: int64(value.Uint)}
	case TypeOctetString:
		entry.Value = Value{Type: TypeOctetString, Bytes: value.Bytes}
	case TypeBoolean:
		entry.Value = Value{Type: TypeBoolean, Bool: value.Bool}
	default:
		return Entry{}, false, decodeErrorf(value.Offset, "value: unexpected %s", value.Type)
	}

	return entry, true, nil
}
