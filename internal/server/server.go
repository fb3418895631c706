package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/metrics"
	"firestige.xyz/otrace/internal/pipeline"
	"firestige.xyz/otrace/internal/recorder"
	"firestige.xyz/otrace/pkg/plugin"
)

// Command is a single byte the consumer may send back to the producer.
type Command byte

// Back-channel commands.
const (
	CaptureFrame Command = 0 // Capture the next GPU submit
)

const commandWriteTimeout = 5 * time.Second

// Config contains server configuration.
type Config struct {
	Listen         string
	MaxConnections int // 0 = unlimited
	RateLimit      RateLimiterConfig
	Decoder        decoder.Options // ReadTimeout applies per read
	Correlate      bool
	MaxDepth       int
	EmitEvents     bool
	Reporters      []plugin.Reporter
	Recorder       *recorder.Recorder // nil = recording off
}

// ConfigFrom derives the server configuration from the global configuration.
func ConfigFrom(cfg *config.GlobalConfig, reporters []plugin.Reporter, rec *recorder.Recorder) (Config, error) {
	order, err := decoder.ParseByteOrder(cfg.Decoder.ByteOrder)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Listen:         cfg.Server.Listen,
		MaxConnections: cfg.Server.MaxConnections,
		RateLimit: RateLimiterConfig{
			MaxPerWindow: cfg.Server.RateLimit.MaxPerWindow,
			Window:       cfg.Server.RateLimit.Window,
		},
		Decoder: decoder.Options{
			ByteOrder: order,
			Limits: decoder.Limits{
				MaxStringBytes: cfg.Decoder.MaxStringBytes,
				MaxExtraBytes:  cfg.Decoder.MaxExtraBytes,
			},
			ReadTimeout: cfg.Server.ReadTimeout,
		},
		Correlate:  cfg.Correlate.Enabled,
		MaxDepth:   cfg.Correlate.MaxDepth,
		EmitEvents: cfg.Correlate.EmitEvents,
		Reporters:  reporters,
		Recorder:   rec,
	}, nil
}

// Server accepts producer connections and decodes each one in its own goroutine.
type Server struct {
	cfg      Config
	limiter  *ConnRateLimiter
	sessions *Registry

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	seq      atomic.Uint64
	active   atomic.Int64 // Admitted connections not yet finished

	mu      sync.Mutex
	stopped bool
}

// New creates a server. Call Start to begin accepting.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		limiter:  NewConnRateLimiter(cfg.RateLimit),
		sessions: NewRegistry(),
	}
}

// Start listens on the configured address and accepts in the background.
// Bind errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.Serve(ctx, ln)
	return nil
}

// Serve accepts connections from ln in the background.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	s.listener = ln
	// Sessions outlive the caller's context until Stop; Stop cancels them.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	slog.Info("trace server started", "listen", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
}

// Addr returns the listening address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *Registry { return s.sessions }

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failure (e.g. EMFILE): back off and retry.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			slog.Error("failed to accept connection", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.admit(conn) {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// admit applies the rate limiter and the connection cap.
func (s *Server) admit(conn net.Conn) bool {
	remote := conn.RemoteAddr().String()
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		if !s.limiter.Allow(ap.Addr(), time.Now()) {
			metrics.ConnectionsTotal.WithLabelValues(metrics.ConnRateLimited).Inc()
			slog.Warn("connection rate limited", "remote", remote)
			return false
		}
	}
	// The slot is reserved here and released when handleConnection returns.
	if n := s.active.Add(1); s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		s.active.Add(-1)
		metrics.ConnectionsTotal.WithLabelValues(metrics.ConnOverLimit).Inc()
		slog.Warn("connection limit reached", "remote", remote, "max_connections", s.cfg.MaxConnections)
		return false
	}
	metrics.ConnectionsTotal.WithLabelValues(metrics.ConnAccepted).Inc()
	return true
}

// newSessionID returns a file-name safe, monotonically numbered session id.
func (s *Server) newSessionID(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "-" + strconv.FormatUint(s.seq.Add(1), 10)
}

// handleConnection runs one decoding session.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.active.Add(-1)

	now := time.Now()
	id := s.newSessionID(now)
	remote := conn.RemoteAddr().String()
	logger := slog.With("session_id", id, "remote", remote)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	entry := &sessionEntry{
		id:        id,
		remote:    remote,
		startedAt: now,
		conn:      conn,
		cancel:    cancel,
	}

	var src net.Conn = conn
	if s.cfg.Recorder != nil {
		rec, err := s.cfg.Recorder.Create(id)
		if err != nil {
			logger.Warn("recording unavailable", "error", err)
		} else {
			entry.recording = rec
			src = &recordingConn{Conn: conn, rec: rec}
		}
	}

	// Reports must still go out while the session winds down after cancellation.
	entry.pipeline = pipeline.NewBuilder().
		WithSessionID(id).
		WithRemote(remote).
		WithReporters(s.cfg.Reporters...).
		WithCorrelation(s.cfg.Correlate, s.cfg.MaxDepth).
		WithEvents(s.cfg.EmitEvents).
		Build(context.WithoutCancel(ctx))
	entry.session = decoder.NewSession(src, entry.pipeline, s.cfg.Decoder)

	s.sessions.add(entry)
	metrics.ActiveSessions.Inc()
	defer func() {
		conn.Close()
		if entry.recording != nil {
			if err := entry.recording.Close(); err != nil {
				logger.Warn("failed to close recording", "error", err)
			}
		}
		s.sessions.remove(id)
		metrics.ActiveSessions.Dec()
	}()

	logger.Info("producer connected")
	err := entry.session.Run(ctx)
	switch {
	case err == nil:
		logger.Info("producer disconnected", "bytes", entry.session.Offset(), "events", entry.session.Events())
	case errors.Is(err, context.Canceled):
		entry.pipeline.Flush()
		logger.Info("session cancelled", "bytes", entry.session.Offset())
	default:
		logger.Warn("session ended with error", "kind", core.KindOf(err).String(), "error", err)
	}
}

// SendCommand writes a back-channel command to a live session's producer.
func (s *Server) SendCommand(id string, cmd Command) error {
	entry, ok := s.sessions.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()

	if err := entry.conn.SetWriteDeadline(time.Now().Add(commandWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := entry.conn.Write([]byte{byte(cmd)}); err != nil {
		return fmt.Errorf("send command to %s: %w", id, err)
	}
	slog.Info("command sent", "session_id", id, "command", cmd)
	return nil
}

// CloseSession cancels a live session.
func (s *Server) CloseSession(id string) error {
	entry, ok := s.sessions.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	entry.cancel()
	return nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop closes the listener, cancels every session and waits for them to finish
// or for ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.listener.Close()
	s.cancel()
	s.sessions.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("trace server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d sessions still running", core.ErrServerStopped, s.sessions.Count())
	}
}

// String renders the command name.
func (c Command) String() string {
	switch c {
	case CaptureFrame:
		return "capture_frame"
	default:
		return "command(" + strconv.Itoa(int(c)) + ")"
	}
}

// ListSessions returns a snapshot of every live session, oldest first.
func (s *Server) ListSessions() []SessionInfo { return s.sessions.List() }

// RejectedConnections returns the number of connections refused by the rate limiter.
func (s *Server) RejectedConnections() int64 { return s.limiter.Rejected() }
