package session

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/sml"
)

// Pipeline turns the inbound messages of one meter into snapshots: strip
// the transport prefix, reassemble frames, decode and project them, and
// publish the result. The supervisor runs one per meter; the decode
// command drives one from captured data.
//
// Feed and Reset must be called from one goroutine. Stats may be read
// from any goroutine.
type Pipeline struct {
	name      string
	prefix    int
	publisher meter.Publisher
	logger    *zap.Logger

	framer    *sml.Framer
	projector *meter.Projector
	prev      *meter.Snapshot

	// OnError, if set, receives every frame and decode error. Errors never
	// stop the pipeline.
	OnError func(error)

	messages     atomic.Uint64
	frames       atomic.Uint64
	snapshots    atomic.Uint64
	frameErrors  atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewPipeline returns a pipeline publishing snapshots of meter name.
// prefix bytes are stripped from every message; maxBuffer bounds the
// framer, zero selecting sml.DefaultMaxBuffer.
func NewPipeline(name string, prefix, maxBuffer int, publisher meter.Publisher, logger *zap.Logger) *Pipeline {
	if prefix < 0 {
		prefix = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		name:      name,
		prefix:    prefix,
		publisher: publisher,
		logger:    logger,
		framer:    sml.NewFramer(maxBuffer),
		projector: meter.NewProjector(),
	}
}

// Reset drops buffered bytes. Call it whenever the byte stream restarts,
// so bytes of a dead connection never merge with the next one.
func (p *Pipeline) Reset() {
	p.framer.Reset()
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (p *Pipeline) Buffered() int {
	return p.framer.Buffered()
}

// Stats returns the message, frame and snapshot counters. Connection
// counters are left zero.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Messages:     p.messages.Load(),
		Frames:       p.frames.Load(),
		Snapshots:    p.snapshots.Load(),
		FrameErrors:  p.frameErrors.Load(),
		DecodeErrors: p.decodeErrors.Load(),
	}
}

// Feed processes one inbound message received at now. It returns the
// number of checksum-valid frames the message completed.
func (p *Pipeline) Feed(data []byte, now time.Time) int {
	p.messages.Add(1)

	prefix := p.prefix
	if prefix > len(data) {
		p.logger.Debug("Message shorter than transport prefix",
			zap.Int("length", len(data)),
			zap.Int("prefix", prefix),
		)
		prefix = len(data)
	}

	frames := 0
	chunk := data[prefix:]
	for {
		frame, err := p.framer.Push(chunk)
		chunk = nil
		if err != nil {
			p.frameErrors.Add(1)
			p.logger.Warn("Discarding invalid frame data", zap.Error(err))
			p.report(err)
			continue
		}
		if frame == nil {
			return frames
		}
		frames++
		p.frames.Add(1)
		p.handleFrame(frame, now)
	}
}

func (p *Pipeline) handleFrame(frame *sml.Frame, now time.Time) {
	entries, err := sml.Decode(frame)
	if err != nil {
		p.decodeErrors.Add(1)
		p.logger.Warn("Dropping undecodable frame",
			zap.Int("payload_length", len(frame.Payload)),
			zap.Error(err),
		)
		p.report(err)
		return
	}

	snap := p.projector.Project(entries, p.prev, now)
	p.prev = &snap
	p.publisher.Publish(p.name, snap)
	p.snapshots.Add(1)

	p.logger.Debug("Snapshot published",
		zap.Int("entries", len(entries)),
		zap.Int("values", len(snap.Values)),
		zap.Float64("power", snap.Power),
	)
}

func (p *Pipeline) report(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
