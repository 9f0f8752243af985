// Package collector serves many concurrent producer connections, each
// running an independent responder session.
//
// One reader goroutine per connection performs a single blocking read, posts
// the chunk to the event loop, and waits until the loop has consumed it
// before reading again. The event loop is the only code that touches a
// session: it feeds chunks, writes acknowledgments, and contains every
// per-connection failure to that connection.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inealey/cinema-transfer/adapter"
	"github.com/inealey/cinema-transfer/catalog"
	"github.com/inealey/cinema-transfer/iox"
	"github.com/inealey/cinema-transfer/log"
	"github.com/inealey/cinema-transfer/metrics"
	"github.com/inealey/cinema-transfer/output"
	"github.com/inealey/cinema-transfer/session"
	"github.com/inealey/cinema-transfer/types"
	"github.com/inealey/cinema-transfer/wire"
)

const (
	// DefaultReadSize is the maximum number of bytes per read.
	DefaultReadSize = 4096
	// DefaultIdleTimeout closes connections that send nothing for this long.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultWriteTimeout bounds every acknowledgment write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultPublishTimeout bounds one adapter publish.
	DefaultPublishTimeout = 30 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the host:port to listen on.
	Addr string
	// Sink receives committed batches (required).
	Sink output.Sink
	// MaxPayload caps a declared payload size. Zero selects
	// wire.DefaultMaxPayloadSize.
	MaxPayload uint64
	// ReadSize is the maximum bytes per read (default 4096).
	ReadSize int
	// IdleTimeout closes silent connections (default 5m).
	IdleTimeout time.Duration
	// WriteTimeout bounds acknowledgment writes (default 10s).
	WriteTimeout time.Duration
	// PublishTimeout bounds one adapter publish (default 30s).
	PublishTimeout time.Duration

	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// Adapter is optional; when set every committed batch is published.
	Adapter adapter.Adapter
	// ReservedNames are file names a batch may not use. Nil reserves the
	// catalog manifest; an empty non-nil slice reserves nothing.
	ReservedNames []string
}

// Server is the collector multiplexer.
type Server struct {
	cfg    Config
	ln     net.Listener
	logger *log.Logger

	events chan event
	done   chan struct{}

	// conns is owned by the event loop.
	conns map[string]*conn

	wg sync.WaitGroup
}

// conn is the event loop's record for one connection.
type conn struct {
	id     string
	nc     net.Conn
	sess   *session.Session
	logger *log.Logger
	// resume hands the reader its next turn; closed on removal.
	resume chan struct{}

	started    time.Time
	halfClosed bool
}

type eventKind int

const (
	eventAccept eventKind = iota
	eventRead
)

// event is posted to the loop by the accept goroutine or a reader.
type event struct {
	kind  eventKind
	id    string
	nc    net.Conn
	chunk []byte
	err   error
}

// Listen binds the listening socket. Failure here is the only error that is
// fatal to the collector.
func Listen(cfg Config) (*Server, error) {
	if cfg.Sink == nil {
		return nil, errors.New("collector requires an output sink")
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.ReservedNames == nil {
		cfg.ReservedNames = []string{catalog.ManifestName}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	return &Server{
		cfg:    cfg,
		ln:     ln,
		logger: logger,
		events: make(chan event),
		done:   make(chan struct{}),
		conns:  make(map[string]*conn),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the event loop until ctx is cancelled. All connections are
// closed and all goroutines have exited when it returns.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("collector listening", map[string]any{
		"addr":   s.ln.Addr().String(),
		"output": s.cfg.Sink.Location(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			switch ev.kind {
			case eventAccept:
				s.handleAccept(ev.nc)
			case eventRead:
				s.handleRead(ctx, ev)
			}
		}
	}
}

func (s *Server) shutdown() {
	_ = s.ln.Close()
	for _, c := range s.conns {
		if !c.sess.State().Terminal() {
			s.fail(c, c.sess.Abort(errors.New("collector shutting down")))
			continue
		}
		s.remove(c)
	}
	close(s.done)
	s.wg.Wait()
	s.logger.Info("collector stopped", nil)
}

// post delivers ev to the loop unless the server is shutting down.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient (for example EMFILE): back off and keep serving.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Warn("accept failed", map[string]any{"error": err.Error(), "retry_in": backoff.String()})
			select {
			case <-time.After(backoff):
				continue
			case <-s.done:
				return
			}
		}
		backoff = 0
		if !s.post(event{kind: eventAccept, nc: nc}) {
			iox.DiscardClose(nc)
			return
		}
	}
}

func (s *Server) handleAccept(nc net.Conn) {
	id := uuid.NewString()
	c := &conn{
		id:      id,
		nc:      nc,
		sess:    session.New(s.cfg.Sink, s.cfg.MaxPayload, s.cfg.ReservedNames...),
		resume:  make(chan struct{}, 1),
		started: time.Now(),
		logger: s.logger.With(map[string]any{
			"conn_id":     id,
			"remote_addr": nc.RemoteAddr().String(),
		}),
	}
	s.conns[id] = c
	s.cfg.Metrics.IncConnectionAccepted()
	c.logger.Debug("connection accepted", map[string]any{"active": len(s.conns)})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop performs one read per turn. It never touches the session.
func (s *Server) readLoop(c *conn) {
	buf := make([]byte, s.cfg.ReadSize)
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		n, err := c.nc.Read(buf)
		if !s.post(event{kind: eventRead, id: c.id, chunk: buf[:n], err: err}) {
			return
		}
		if err != nil {
			return
		}
		select {
		case _, ok := <-c.resume:
			if !ok {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleRead(ctx context.Context, ev event) {
	c, ok := s.conns[ev.id]
	if !ok {
		return
	}

	if len(ev.chunk) > 0 {
		replies, err := c.sess.Feed(ctx, ev.chunk)
		if err != nil {
			s.fail(c, err)
			return
		}
		if err := s.reply(c, replies); err != nil {
			s.fail(c, c.sess.Abort(err))
			return
		}
		if c.sess.State() == session.StateClosed && !c.halfClosed {
			s.complete(c)
		}
	}

	switch {
	case ev.err == nil:
		c.resume <- struct{}{}
	case errors.Is(ev.err, io.EOF):
		if err := c.sess.End(); err != nil {
			s.fail(c, err)
			return
		}
		c.logger.Debug("connection closed by peer", nil)
		s.remove(c)
	case c.sess.State() == session.StateClosed:
		// Reset after a completed handshake loses nothing.
		s.remove(c)
	default:
		s.fail(c, c.sess.Abort(ev.err))
	}
}

// reply writes acknowledgments and reports a committed batch.
func (s *Server) reply(c *conn, replies []wire.ControlMessage) error {
	for _, msg := range replies {
		frame, err := wire.EncodeControl(msg)
		if err != nil {
			return err
		}
		_ = c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := c.nc.Write(frame); err != nil {
			return fmt.Errorf("write %s: %w", msg, err)
		}
		c.logger.Debug("acknowledged", map[string]any{"ack": msg.String(), "state": c.sess.State().String()})

		if msg == wire.Ack(wire.KindDataPayload) {
			s.committed(c)
		}
	}
	return nil
}

func (s *Server) committed(c *conn) {
	res := c.sess.Result()
	s.cfg.Metrics.RecordBatch(len(res.Files), res.Bytes)
	c.logger.Info("batch committed", map[string]any{
		"files":  len(res.Files),
		"bytes":  res.Bytes,
		"output": s.cfg.Sink.Location(),
	})
	if s.cfg.Adapter != nil {
		s.publish(c, res)
	}
}

// publish notifies the adapter without blocking the loop.
func (s *Server) publish(c *conn, res session.Result) {
	ev := &adapter.BatchReceivedEvent{
		EventType:       adapter.EventTypeBatchReceived,
		ProtocolVersion: types.ProtocolVersion,
		ConnID:          c.id,
		RemoteAddr:      c.nc.RemoteAddr().String(),
		FileCount:       len(res.Files),
		ByteCount:       res.Bytes,
		Files:           res.Files,
		Output:          s.cfg.Sink.Location(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationMs:      time.Since(c.started).Milliseconds(),
	}
	logger := c.logger

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		defer cancel()
		if err := s.cfg.Adapter.Publish(ctx, ev); err != nil {
			s.cfg.Metrics.IncAdapterPublishFailure()
			logger.Warn("publish failed", map[string]any{"error": err.Error()})
			return
		}
		s.cfg.Metrics.IncAdapterPublishSuccess()
	}()
}

// complete half-closes after DONE; the connection is removed once the
// peer's EOF arrives.
func (s *Server) complete(c *conn) {
	c.halfClosed = true
	s.cfg.Metrics.IncSessionCompleted()
	if !iox.CloseWrite(c.nc) {
		c.logger.Debug("half-close unsupported", nil)
	}
	c.logger.Debug("session complete", map[string]any{"duration_ms": time.Since(c.started).Milliseconds()})
}

// fail contains a session error to its connection.
func (s *Server) fail(c *conn, err error) {
	reason := session.Reason(err)
	s.cfg.Metrics.IncSessionFailed(reason)
	c.logger.Warn("session failed", map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
	s.remove(c)
}

func (s *Server) remove(c *conn) {
	delete(s.conns, c.id)
	close(c.resume)
	iox.DiscardClose(c.nc)
	s.cfg.Metrics.DecConnectionActive()
}
