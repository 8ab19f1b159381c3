package sml

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Message constructor library for building SML files.
// The simulator and the tests use it to produce byte-exact meter output.

// EncodeOctetString encodes b as an octet string element.
func EncodeOctetString(b []byte) []byte {
	out := encodeTL(TypeOctetString, len(b), false)
	return append(out, b...)
}

// EncodeAbsent encodes an omitted OPTIONAL field.
func EncodeAbsent() []byte {
	return []byte{absentValue}
}

// EncodeBool encodes a boolean element.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{0x42, 0x01}
	}
	return []byte{0x42, 0x00}
}

// EncodeUnsigned encodes v as an unsigned element of size bytes (1, 2, 4 or 8).
func EncodeUnsigned(v uint64, size int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	out := encodeTL(TypeUnsigned, size, false)
	return append(out, buf[8-size:]...)
}

// EncodeInteger encodes v as a signed element of size bytes (1, 2, 4 or 8).
func EncodeInteger(v int64, size int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	out := encodeTL(TypeInteger, size, false)
	return append(out, buf[8-size:]...)
}

// EncodeList encodes a list of already encoded elements.
func EncodeList(items ...[]byte) []byte {
	out := encodeTL(TypeList, len(items), true)
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

// encodeTL builds a type-length field. For non-list types the advertised
// length includes the type-length bytes themselves.
func encodeTL(typ Type, n int, isList bool) []byte {
	tlLen := 1
	for ; tlLen < maxTLBytes; tlLen++ {
		total := n
		if !isList {
			total += tlLen
		}
		if total < 1<<(4*uint(tlLen)) {
			break
		}
	}
	length := n
	if !isList {
		length += tlLen
	}

	out := make([]byte, tlLen)
	for i := tlLen - 1; i >= 0; i-- {
		out[i] = byte(length & tlLenMask)
		length >>= 4
		if i < tlLen-1 {
			out[i] |= tlMoreFlag
		}
	}
	out[0] |= byte(typ) << 4
	return out
}

// unsignedSize returns the smallest standard width holding v.
func unsignedSize(v uint64) int {
	switch {
	case v <= math.MaxUint8:
		return 1
	case v <= math.MaxUint16:
		return 2
	case v <= math.MaxUint32:
		return 4
	default:
		return 8
	}
}

// integerSize returns the smallest standard width holding v.
func integerSize(v int64) int {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return 1
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return 2
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return 4
	default:
		return 8
	}
}

// EncodeEntry encodes e as an SML_ListEntry.
func EncodeEntry(e Entry) ([]byte, error) {
	code, err := hex.DecodeString(e.Code)
	if err != nil || len(code) != obisCodeLen {
		return nil, fmt.Errorf("invalid OBIS code %q: want %d hex bytes", e.Code, obisCodeLen)
	}

	status := EncodeAbsent()
	if e.Status != nil {
		status = EncodeUnsigned(*e.Status, unsignedSize(*e.Status))
	}
	unit := EncodeAbsent()
	if e.Unit != nil {
		unit = EncodeUnsigned(uint64(*e.Unit), 1)
	}
	scaler := EncodeAbsent()
	if e.Scaler != nil {
		scaler = EncodeInteger(int64(*e.Scaler), 1)
	}

	var value []byte
	switch e.Value.Type {
	case TypeInteger:
		value = EncodeInteger(e.Value.Int, integerSize(e.Value.Int))
	case TypeUnsigned:
		if e.Value.Int < 0 {
			return nil, fmt.Errorf("entry %s: negative unsigned value %d", e.Code, e.Value.Int)
		}
		v := uint64(e.Value.Int)
		value = EncodeUnsigned(v, unsignedSize(v))
	case TypeOctetString:
		value = EncodeOctetString(e.Value.Bytes)
	case TypeBoolean:
		value = EncodeBool(e.Value.Bool)
	default:
		return nil, fmt.Errorf("entry %s: unsupported value type %s", e.Code, e.Value.Type)
	}

	return EncodeList(
		EncodeOctetString(code),
		status,
		EncodeAbsent(), // valTime
		unit,
		scaler,
		value,
		EncodeAbsent(), // valueSignature
	), nil
}

// encodeMessage wraps a message body into an SML_Message including its CRC.
func encodeMessage(transactionID []byte, groupNo uint8, tag uint32, choice []byte) []byte {
	head := EncodeList(
		EncodeOctetString(transactionID),
		EncodeUnsigned(uint64(groupNo), 1),
		EncodeUnsigned(0, 1), // abortOnError
		EncodeList(EncodeUnsigned(uint64(tag), 4), choice),
		EncodeUnsigned(0, 2), // crc placeholder
		[]byte{0x00},
	)
	// The CRC covers everything before the crc16 field (3 bytes + end marker).
	crcAt := len(head) - 4
	crc := CRC16(head[:crcAt])
	binary.BigEndian.PutUint16(head[crcAt+1:crcAt+3], crc)
	return head
}

// BuildOpenResponse builds an SML_PublicOpen.Res message.
func BuildOpenResponse(transactionID, fileID, serverID []byte) []byte {
	return encodeMessage(transactionID, 0, MsgOpenResponse, EncodeList(
		EncodeAbsent(), // codepage
		EncodeAbsent(), // clientId
		EncodeOctetString(fileID),
		EncodeOctetString(serverID),
		EncodeAbsent(), // refTime
		EncodeAbsent(), // smlVersion
	))
}

// BuildCloseResponse builds an SML_PublicClose.Res message.
func BuildCloseResponse(transactionID []byte) []byte {
	return encodeMessage(transactionID, 0, MsgCloseResponse, EncodeList(EncodeAbsent()))
}

// BuildGetListResponse builds an SML_GetList.Res message carrying entries.
func BuildGetListResponse(transactionID, serverID []byte, entries []Entry) ([]byte, error) {
	items := make([][]byte, 0, len(entries))
	for _, e := range entries {
		enc, err := EncodeEntry(e)
		if err != nil {
			return nil, err
		}
		items = append(items, enc)
	}
	return encodeMessage(transactionID, 0, MsgGetListResponse, EncodeList(
		EncodeAbsent(), // clientId
		EncodeOctetString(serverID),
		EncodeAbsent(), // listName
		EncodeAbsent(), // actSensorTime
		EncodeList(items...),
		EncodeAbsent(), // listSignature
		EncodeAbsent(), // actGatewayTime
	)), nil
}

// BuildFrame wraps messages into a transport v1 frame: start sequence,
// escaped payload, padding, end sequence with fill count and CRC.
func BuildFrame(messages ...[]byte) []byte {
	var payload []byte
	for _, m := range messages {
		payload = append(payload, m...)
	}

	out := append([]byte{}, startSequence...)
	for i := 0; i < len(payload); i += 4 {
		end := i + 4
		if end > len(payload) {
			end = len(payload)
		}
		word := payload[i:end]
		out = append(out, word...)
		if len(word) == 4 && string(word) == string(escapeWord) {
			out = append(out, escapeWord...)
		}
	}

	fill := (4 - len(payload)%4) % 4
	out = append(out, make([]byte, fill)...)
	out = append(out, escapeWord...)
	out = append(out, endMarker, byte(fill))

	crc := CRC16(out)
	return append(out, byte(crc), byte(crc>>8))
}

// BuildEntriesFrame is a convenience wrapper producing a complete
// open/getlist/close frame for entries.
func BuildEntriesFrame(serverID []byte, entries []Entry) ([]byte, error) {
	list, err := BuildGetListResponse([]byte{0x01}, serverID, entries)
	if err != nil {
		return nil, err
	}
	return BuildFrame(
		BuildOpenResponse([]byte{0x00}, []byte{0x00, 0x01}, serverID),
		list,
		BuildCloseResponse([]byte{0x02}),
	), nil
}
