package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/meter"
)

const (
	// DefaultPrefixLength is the number of non-SML bytes the bridge puts in
	// front of every WebSocket message.
	DefaultPrefixLength = 38

	// NoPrefix as Config.PrefixLength feeds messages to the framer whole.
	NoPrefix = -1

	// DefaultReadTimeout bounds how long a connected device may stay silent
	// before the session is treated as dead.
	DefaultReadTimeout = 60 * time.Second
)

// Config describes one meter pipeline.
type Config struct {
	// Name identifies the meter in the published snapshots and in logs.
	Name string
	// URL is the connection target, credentials included.
	URL string
	// PrefixLength bytes are stripped from each inbound message before
	// framing. Zero selects DefaultPrefixLength, NoPrefix strips nothing.
	PrefixLength int
	// MaxBuffer bounds the framer; zero selects sml.DefaultMaxBuffer.
	MaxBuffer   int
	ReadTimeout time.Duration
}

// Stats counts pipeline events since the supervisor was created.
type Stats struct {
	Connects        uint64
	Messages        uint64
	Frames          uint64
	Snapshots       uint64
	FrameErrors     uint64
	DecodeErrors    uint64
	TransportErrors uint64
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

// WithBackoff replaces the reconnect policy.
func WithBackoff(b backoff.BackOff) Option {
	return func(s *Supervisor) { s.policy = b }
}

// WithOnState registers a hook called on every state transition. The hook
// runs on the supervisor goroutine and must not block.
func WithOnState(fn func(Transition)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// WithRecorder captures every inbound message to rec.
func WithRecorder(rec *Recorder) Option {
	return func(s *Supervisor) { s.recorder = rec }
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor owns the connection of one meter and drives its pipeline:
// inbound bytes are framed, decoded, projected and published. It reconnects
// on every transport failure and only stops when its context is cancelled.
//
// A Supervisor is single-use and not safe for concurrent Run calls. State
// and Stats may be read from any goroutine.
type Supervisor struct {
	cfg      Config
	dialer   Dialer
	policy   backoff.BackOff
	logger   *zap.Logger
	onState  func(Transition)
	recorder *Recorder
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	pipeline *Pipeline

	state           atomic.Int32
	connects        atomic.Uint64
	transportErrors atomic.Uint64
}

// New returns a supervisor for cfg that publishes to publisher.
func New(cfg Config, publisher meter.Publisher, opts ...Option) *Supervisor {
	switch {
	case cfg.PrefixLength == 0:
		cfg.PrefixLength = DefaultPrefixLength
	case cfg.PrefixLength < 0:
		cfg.PrefixLength = 0
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	s := &Supervisor{
		cfg:    cfg,
		dialer: NewWebSocketDialer(),
		logger: zap.NewNop(),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pipeline = NewPipeline(cfg.Name, cfg.PrefixLength, cfg.MaxBuffer, publisher, s.logger)
	if s.policy == nil {
		s.policy = NewBackoff(BackoffConfig{})
	}
	return s
}

// Name returns the meter name.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Stats returns a copy of the event counters.
func (s *Supervisor) Stats() Stats {
	st := s.pipeline.Stats()
	st.Connects = s.connects.Load()
	st.TransportErrors = s.transportErrors.Load()
	return st
}

// Run connects and processes data until ctx is cancelled, then returns
// ctx.Err(). Connection failures never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected, 0, nil)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting, 0, nil)
		framed, err := s.serve(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.transportErrors.Add(1)

		if framed {
			s.policy.Reset()
			attempt = 0
		}
		attempt++
		delay := nextDelay(s.policy)

		s.setState(StateBackoff, attempt, err)
		s.logger.Warn("Connection lost, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(delay):
		}
	}
}

// serve runs one connection to completion. It reports whether at least one
// checksum-valid frame arrived, and the error that ended the session.
func (s *Supervisor) serve(ctx context.Context) (framed bool, err error) {
	conn, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return false, err
	}

	sessionID := uuid.NewString()
	log := s.logger.With(zap.String("session", sessionID))

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = conn.Close()
		log.Info("Connection closed")
	}()

	// Closing the connection is the only way to interrupt a blocked read.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	// Bytes buffered by an earlier connection must never merge with this one.
	s.pipeline.Reset()
	s.pipeline.logger = log
	s.connects.Add(1)
	s.setState(StateConnected, 0, nil)
	log.Info("Connected")

	messageNum := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return framed, fmt.Errorf("%w: set read deadline: %v", ErrTransport, err)
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return framed, fmt.Errorf("%w: read: %v", ErrTransport, err)
		}

		messageNum++
		if s.recorder != nil {
			if err := s.recorder.Record(s.cfg.Name, sessionID, messageNum, messageType, data); err != nil {
				log.Error("Failed to record message", zap.Error(err))
			}
		}

		if s.pipeline.Feed(data, s.now()) > 0 {
			framed = true
		}
	}
}

func (s *Supervisor) setState(to State, attempt int, err error) {
	from := State(s.state.Swap(int32(to)))
	if from == to && to != StateBackoff {
		return
	}
	if s.onState != nil {
		s.onState(Transition{Meter: s.cfg.Name, From: from, To: to, Attempt: attempt, Err: err})
	}
}
