package sml

import (
	"bytes"
	"fmt"
)

// DefaultMaxBuffer bounds the bytes a Framer holds while waiting for an end
// sequence. Real meters emit frames of a few hundred bytes.
const DefaultMaxBuffer = 8192

// Transport v1 escape sequences
var (
	escapeWord    = []byte{0x1b, 0x1b, 0x1b, 0x1b}
	versionWord   = []byte{0x01, 0x01, 0x01, 0x01}
	startSequence = []byte{0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01}
)

const (
	endMarker   = 0x1a
	seqLen      = 8 // escape word + command word
	trailerFill = 5 // offset of the fill count inside the end sequence
)

// Frame is a CRC-validated SML transport frame.
type Frame struct {
	// Payload holds the SML messages with escape sequences removed and
	// padding stripped.
	Payload []byte
	// Raw is the frame exactly as received, start and end sequences included.
	Raw []byte
	// Fill is the number of padding bytes announced by the end sequence.
	Fill int
	// CRC is the validated frame checksum.
	CRC uint16
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{payload=%d, raw=%d, fill=%d, crc=0x%04x}",
		len(f.Payload), len(f.Raw), f.Fill, f.CRC)
}

// Framer reassembles SML frames from an arbitrarily chunked byte stream.
//
// A Framer is owned by a single goroutine; it does no locking.
type Framer struct {
	buf  []byte
	max  int
	scan int // resume offset for the end-sequence search, 0 = no start located
}

// NewFramer returns a framer that buffers at most maxBuffer bytes. A value
// <= 0 selects DefaultMaxBuffer.
func NewFramer(maxBuffer int) *Framer {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Framer{max: maxBuffer}
}

// Reset discards all buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.scan = 0
}

// Buffered returns the number of bytes waiting for the next frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Push appends chunk to the buffer and returns at most one frame.
//
// It returns (nil, nil) when no complete frame is available yet,
// (frame, nil) when a frame was validated, and (nil, *FrameError) when
// buffered bytes had to be discarded. Bytes following a frame stay buffered,
// so callers drain the framer with Push(nil) until it returns (nil, nil).
func (f *Framer) Push(chunk []byte) (*Frame, error) {
	f.buf = append(f.buf, chunk...)

	for {
		if f.scan == 0 {
			if !f.locateStart() {
				return nil, nil
			}
			f.scan = seqLen
		}

		pos, next := f.scanEnd()
		switch next {
		case scanNeedMore:
			if len(f.buf) > f.max {
				n := len(f.buf)
				f.Reset()
				return nil, &FrameError{Kind: KindOverflow, Buffered: n}
			}
			return nil, nil
		case scanRestart:
			f.consume(pos)
			f.scan = seqLen
		case scanInvalid:
			// Unknown escape command; drop it and look for the next start.
			f.consume(pos + seqLen)
			f.scan = 0
		case scanEnd:
			return f.finish(pos)
		}
	}
}

type scanResult int

const (
	scanNeedMore scanResult = iota
	scanEnd
	scanRestart
	scanInvalid
)

// locateStart drops garbage before the start sequence. It keeps a possible
// partial start sequence at the tail of the buffer.
func (f *Framer) locateStart() bool {
	idx := bytes.Index(f.buf, startSequence)
	if idx < 0 {
		if keep := len(startSequence) - 1; len(f.buf) > keep {
			f.consume(len(f.buf) - keep)
		}
		return false
	}
	f.consume(idx)
	return true
}

// scanEnd walks 4-byte words from f.scan looking for an escape sequence.
func (f *Framer) scanEnd() (int, scanResult) {
	pos := f.scan
	for pos+4 <= len(f.buf) {
		if !bytes.Equal(f.buf[pos:pos+4], escapeWord) {
			pos += 4
			continue
		}
		if pos+seqLen > len(f.buf) {
			break
		}
		cmd := f.buf[pos+4 : pos+seqLen]
		switch {
		case bytes.Equal(cmd, escapeWord):
			pos += seqLen
		case cmd[0] == endMarker:
			return pos, scanEnd
		case bytes.Equal(cmd, versionWord):
			return pos, scanRestart
		default:
			return pos, scanInvalid
		}
	}
	f.scan = pos
	return pos, scanNeedMore
}

// finish validates the frame whose end sequence starts at pos and removes it
// from the buffer.
func (f *Framer) finish(pos int) (*Frame, error) {
	end := pos + seqLen
	raw := make([]byte, end)
	copy(raw, f.buf[:end])
	f.consume(end)
	f.scan = 0

	want := uint16(raw[end-2]) | uint16(raw[end-1])<<8
	got := CRC16(raw[:end-2])
	if want != got {
		return nil, &FrameError{Kind: KindChecksumMismatch, Buffered: end, Want: want, Got: got}
	}

	payload := unescape(raw[seqLen:pos])
	fill := int(raw[pos+trailerFill])
	if fill > len(payload) {
		fill = len(payload)
	}
	return &Frame{
		Payload: payload[:len(payload)-fill],
		Raw:     raw,
		Fill:    fill,
		CRC:     got,
	}, nil
}

// consume drops n bytes from the front of the buffer, reusing its storage.
func (f *Framer) consume(n int) {
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}

// unescape collapses doubled escape words in word-aligned frame content.
func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+seqLen <= len(data) &&
			bytes.Equal(data[i:i+4], escapeWord) &&
			bytes.Equal(data[i+4:i+seqLen], escapeWord) {
			out = append(out, escapeWord...)
			i += seqLen
			continue
		}
		end := i + 4
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end]...)
		i = end
	}
	return out
}
