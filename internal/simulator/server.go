// Package simulator serves a fake meter bridge: a WebSocket endpoint that
// streams SML frames the way a real bridge does, each message carrying the
// transport prefix in front of the SML bytes.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/sml"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	DefaultInterval     = time.Second
	DefaultPath         = "/ws"
	DefaultPrefixLength = 38
)

// Config controls what the simulator sends.
type Config struct {
	Path     string
	Username string
	// Password enables basic auth when non-empty.
	Password string

	Interval     time.Duration
	PrefixLength int

	// ChunkSize splits each frame across several messages of at most this
	// many SML bytes. Zero sends one frame per message.
	ChunkSize int

	// CorruptEvery flips a checksum byte in every n-th frame. Zero never
	// corrupts.
	CorruptEvery int

	ServerID []byte
}

// Server streams frames from a Source to every connected client.
type Server struct {
	cfg      Config
	source   Source
	logger   *zap.Logger
	upgrader websocket.Upgrader

	frames  atomic.Uint64
	clients atomic.Int64
}

// New returns a simulator for source. Zero config fields take defaults.
func New(cfg Config, source Source, logger *zap.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PrefixLength < 0 {
		cfg.PrefixLength = DefaultPrefixLength
	}
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if len(cfg.ServerID) == 0 {
		cfg.ServerID = []byte{0x0a, 0x01, 0x50, 0x4c, 0x53, 0x00, 0x00, 0x00, 0x00, 0x01}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Frames returns how many frames have been sent in total.
func (s *Server) Frames() uint64 {
	return s.frames.Load()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info("Simulator listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.cfg.Path),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Password != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.Username || pass != s.cfg.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="meter"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	s.clients.Add(1)
	defer s.clients.Add(-1)

	log := s.logger.With(zap.String("remote_addr", r.RemoteAddr))
	log.Info("Client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain inbound messages so control frames are handled; the first
	// read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.stream(ctx, conn)
	log.Info("Client disconnected", zap.Error(err))
}

// stream sends one frame per interval until ctx ends or a write fails.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var seq uint32
	for {
		seq++
		frame, err := s.nextFrame(seq, time.Now())
		if err != nil {
			return err
		}
		for _, msg := range s.messages(seq, frame) {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return err
			}
		}
		s.frames.Add(1)

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulator stopping"),
				time.Now().Add(time.Second))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) nextFrame(seq uint32, now time.Time) ([]byte, error) {
	frame, err := sml.BuildEntriesFrame(s.cfg.ServerID, s.source.Next(now))
	if err != nil {
		return nil, fmt.Errorf("failed to build frame: %w", err)
	}
	if s.cfg.CorruptEvery > 0 && seq%uint32(s.cfg.CorruptEvery) == 0 {
		frame[len(frame)-1] ^= 0xff
	}
	return frame, nil
}

// messages splits frame into WebSocket messages, each with its own prefix.
func (s *Server) messages(seq uint32, frame []byte) [][]byte {
	chunk := s.cfg.ChunkSize
	if chunk <= 0 || chunk >= len(frame) {
		chunk = len(frame)
	}

	var out [][]byte
	for off := 0; off < len(frame); off += chunk {
		end := off + chunk
		if end > len(frame) {
			end = len(frame)
		}
		msg := make([]byte, s.cfg.PrefixLength, s.cfg.PrefixLength+end-off)
		if s.cfg.PrefixLength >= 4 {
			binary.BigEndian.PutUint32(msg, seq)
		}
		out = append(out, append(msg, frame[off:end]...))
	}
	return out
}
