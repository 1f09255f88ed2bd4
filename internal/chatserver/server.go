// Package chatserver owns the TCP acceptor and the live-session registry
// for one chat-server process (spec section 4.2). Grounded on the
// teacher's Hub (internal/domain/registry/hub.go) for the registry/evictor
// shape, generalized from a per-user mailbox actor to a single owned
// chatsession.Session per user.
package chatserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/flicker-im/fabric/internal/chatsession"
	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/frame"
	"github.com/flicker-im/fabric/internal/workerpool"
)

// Config carries a ChatServer's identity and bind address.
type Config struct {
	ServerID string
	Addr     string // host:port to listen on
	Zone     string
}

// ChatServer implements spec section 4.2: bind the acceptor, admit or
// reject incoming connections against MaxConnections, maintain the live
// registry, broadcast, and reap.
type ChatServer struct {
	cfg       Config
	validator chatsession.TokenValidator
	pool      *workerpool.Pool
	logger    *slog.Logger
	loadSink  LoadSink

	registry *registry

	running  atomic.Bool
	listener net.Listener

	wg sync.WaitGroup
}

// LoadSink receives a -1 delta each time a session leaves, so the
// process can publish it onto the load bus; the matching +1 is applied by
// the Status process when it selects this server for a login (spec section 9's resolved
// open question: close-time notification rather than a bare heartbeat).
type LoadSink interface {
	PublishDelta(serverID string, delta int)
}

// Option configures a ChatServer at construction.
type Option func(*ChatServer)

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *ChatServer) { s.logger = l } }

// WithLoadSink attaches the load-delta publisher used on session remove.
func WithLoadSink(sink LoadSink) Option { return func(s *ChatServer) { s.loadSink = sink } }

// New builds a ChatServer bound to cfg, validating auth tokens through
// validator and dispatching accept-admission work through pool.
func New(cfg Config, validator chatsession.TokenValidator, pool *workerpool.Pool, opts ...Option) *ChatServer {
	s := &ChatServer{
		cfg:       cfg,
		validator: validator,
		pool:      pool,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registry = newRegistry(s.logger)
	return s
}

// Start binds the acceptor and begins accepting connections. It returns
// once the listener is bound; the accept loop runs on its own goroutine.
func (s *ChatServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fkerr.ErrAlreadyRunning
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop flips running, closes the acceptor, and stops every live session.
// Idempotent.
func (s *ChatServer) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.registry.stopAll()
	s.registry.close()
	return nil
}

func (s *ChatServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return // normal shutdown path: listener.Close() unblocks Accept
			}
			s.logger.Warn("chatserver: accept error", slog.Any("error", err))
			continue
		}

		// Admission and session construction are posted onto the shared
		// io-pool (spec section 4.1/4.2: "obtain a context from an
		// external io-pool"); the actual blocking read loop still runs on
		// its own goroutine afterward, since a session lives far longer
		// than the worker pool is meant to hold a slot.
		s.pool.Post(func(context.Context) {
			s.admit(conn)
		}, workerpool.Normal)
	}
}

func (s *ChatServer) admit(conn net.Conn) {
	if s.registry.count() >= MaxConnections {
		s.logger.Warn("chatserver: rejecting connection, at capacity", slog.Any("remote", conn.RemoteAddr()))
		conn.Close()
		return
	}

	session := chatsession.New(conn, s, s.validator,
		chatsession.WithLogger(s.logger),
	)
	go session.Start()
}

// Register implements chatsession.Host.
func (s *ChatServer) Register(userUUID string, sess *chatsession.Session) {
	s.registry.add(userUUID, sess)
}

// Remove implements chatsession.Host.
func (s *ChatServer) Remove(userUUID string, sess *chatsession.Session) {
	s.registry.remove(userUUID, sess)
	if s.loadSink != nil {
		s.loadSink.PublishDelta(s.cfg.ServerID, -1)
	}
}

// RouteChatMessage implements chatsession.Host: dispatch to one recipient
// if To is set, otherwise broadcast to every other live session.
func (s *ChatServer) RouteChatMessage(from *chatsession.Session, to string, body json.RawMessage) {
	if to != "" {
		s.SendTo(to, body)
		return
	}
	s.Broadcast(from, body)
}

// Broadcast sends body as a CHAT_MESSAGE to every live session except
// skip, per spec section 4.2's broadcast().
func (s *ChatServer) Broadcast(skip *chatsession.Session, body []byte) {
	for uuid, sess := range s.registry.snapshot() {
		if sess == skip {
			continue
		}
		if err := sess.Send(body, frame.ChatMessage); err != nil {
			s.logger.Debug("chatserver: broadcast send failed", slog.String("user_uuid", uuid), slog.Any("error", err))
		}
	}
}

// SendTo sends body to uuid's live session, if any, per spec section
// 4.2's send_to(). It logs (rather than errors) when the user is offline,
// matching the spec's "warn if offline" wording.
func (s *ChatServer) SendTo(uuid string, body []byte) {
	sess, ok := s.registry.get(uuid)
	if !ok {
		s.logger.Warn("chatserver: send_to target offline", slog.String("user_uuid", uuid))
		return
	}
	if err := sess.Send(body, frame.ChatMessage); err != nil {
		s.logger.Debug("chatserver: send_to failed", slog.String("user_uuid", uuid), slog.Any("error", err))
	}
}

// ConnectionCount returns the number of live sessions.
func (s *ChatServer) ConnectionCount() int { return s.registry.count() }

// CurrentLoadPercent returns connection count as a percentage of
// MaxConnections, clamped to [0, 100].
func (s *ChatServer) CurrentLoadPercent() int { return s.registry.loadPercent() }

// Addr returns the bound listener address, or fkerr.ErrNotRunning before
// Start.
func (s *ChatServer) Addr() (net.Addr, error) {
	if s.listener == nil {
		return nil, fkerr.ErrNotRunning
	}
	return s.listener.Addr(), nil
}
