package session

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CaptureRecord is one inbound message as written to a capture file.
type CaptureRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Meter        string    `json:"meter"`
	SessionID    string    `json:"session_id"`
	MessageNum   int       `json:"message_num"`
	MessageType  int       `json:"message_type"`
	PayloadLen   int       `json:"payload_length"`
	PayloadHex   string    `json:"payload_hex"`
	PayloadASCII string    `json:"payload_ascii"`
}

// Payload returns the decoded message bytes.
func (r CaptureRecord) Payload() ([]byte, error) {
	return hex.DecodeString(r.PayloadHex)
}

// Recorder appends raw inbound messages to a JSONL file, one JSON object
// per line. A Recorder may be shared by several supervisors.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// OpenRecorder creates dir if needed and opens a new capture file named
// after the current time.
func OpenRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return &Recorder{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Path returns the capture file location.
func (r *Recorder) Path() string {
	return r.path
}

// Record writes one message and flushes it, so a capture survives a crash.
func (r *Recorder) Record(meter, sessionID string, messageNum, messageType int, payload []byte) error {
	rec := CaptureRecord{
		Timestamp:    time.Now(),
		Meter:        meter,
		SessionID:    sessionID,
		MessageNum:   messageNum,
		MessageType:  messageType,
		PayloadLen:   len(payload),
		PayloadHex:   hex.EncodeToString(payload),
		PayloadASCII: toASCII(payload),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal capture record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	return r.w.Flush()
}

// Close flushes and closes the capture file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		return err
	}
	return r.f.Close()
}

// ReadCapture calls fn for every record in a capture stream, in order.
// Blank lines are skipped.
func ReadCapture(src io.Reader, fn func(CaptureRecord) error) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec CaptureRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("capture line %d: %w", line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// toASCII renders non-printable bytes as '.'.
func toASCII(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
