// Package sml implements the Smart Message Language (SML) transport and
// message encoding used by German and Nordic household electricity meters.
//
// A meter bridge forwards the optical D0 interface output of the meter as
// binary WebSocket messages. Each message carries a short transport prefix
// followed by a chunk of the raw SML byte stream; frames may span messages.
//
// # Transport Format (SML transport v1)
//
// Frames are word aligned (4 bytes) and delimited by escape sequences:
//   - Start: 1b 1b 1b 1b 01 01 01 01
//   - Payload: SML messages, zero padded to a multiple of 4 bytes
//   - End: 1b 1b 1b 1b 1a <fill count> <crc low> <crc high>
//
// A payload word equal to 1b 1b 1b 1b is sent twice. The CRC is CRC-16/X-25
// over all bytes from the start sequence through the fill count byte.
//
// # Element Encoding
//
// Every element starts with a type-length (TL) field:
//   - Bit 7: another TL byte follows
//   - Bits 6-4: type (000 octet string, 100 boolean, 101 integer,
//     110 unsigned, 111 list)
//   - Bits 3-0: length nibble
//
// For scalar types the length counts the TL bytes too; for lists it is the
// number of child elements. 0x00 terminates a message and 0x01 marks an
// omitted optional field.
//
// # Usage Example
//
//	framer := sml.NewFramer(sml.DefaultMaxBuffer)
//	frame, err := framer.Push(chunk)
//	for frame != nil || err != nil {
//	    if err == nil {
//	        entries, derr := sml.Decode(frame)
//	        // ...
//	    }
//	    frame, err = framer.Push(nil)
//	}
//
// # Error Handling
//
// Framer errors are *FrameError values matching ErrChecksumMismatch or
// ErrOverflow; decoder errors are *DecodeError values matching ErrDecode.
// All of them are recoverable: drop the data and keep going.
//
// # Thread Safety
//
// A Framer belongs to a single goroutine. Decode and the constructor
// functions are stateless and safe for concurrent use.
package sml
