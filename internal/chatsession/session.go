// Package chatsession implements the connection FSM from spec section
// 4.3: the densest subsystem in the fabric. One Session owns exactly one
// TCP socket, speaks the framed binary protocol via internal/frame,
// enforces the New -> AwaitingAuth -> Authenticated -> Closing -> Closed
// state machine, and guarantees head-of-line-ordered writes through a
// bounded, single-writer queue. Grounded on the teacher's actor-per-
// connection shape (internal/domain/registry/connect.go's Connector) for
// the overall "one goroutine drains the socket, a mutex-protected mailbox
// buffers outbound frames" structure, generalized from an event mailbox
// to a framed wire protocol.
package chatsession

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/frame"
)

// State is a position in the session FSM from spec section 4.3.2.
type State int32

const (
	StateNew State = iota
	AwaitingAuth
	Authenticated
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case AwaitingAuth:
		return "AwaitingAuth"
	case Authenticated:
		return "Authenticated"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	authTimeout      = 8 * time.Second
	heartbeatTimeout = 90 * time.Second
	maxWriteQueue    = 100
	validateTimeout  = 5 * time.Second
)

// TokenValidator is how a Session confirms an AUTH_REQUEST without
// knowing anything about gRPC or the Status process; internal/rpcstub
// supplies the concrete implementation used in production, tests supply
// a fake.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, deviceID string) (userUUID string, ok bool, err error)
}

// Host is the subset of ChatServer a Session needs: registering itself
// once authenticated, deregistering on close, and routing an outbound
// chat message to either one recipient or everyone. Depending on this
// narrow interface rather than *chatserver.ChatServer avoids an import
// cycle, the same trick the teacher uses for registry.Hubber /
// registry.Connector.
type Host interface {
	Register(userUUID string, s *Session)
	// Remove deregisters s. Implementations must no-op if the registry's
	// current entry for userUUID is no longer s (it was already replaced
	// by a newer session for the same user), so that closing a superseded
	// session can never evict the session that superseded it.
	Remove(userUUID string, s *Session)
	RouteChatMessage(from *Session, to string, body json.RawMessage)
}

// Session is one authenticated-or-authenticating TCP connection.
type Session struct {
	conn      net.Conn
	host      Host
	validator TokenValidator
	logger    *slog.Logger
	onClose   func(*Session)

	state    atomic.Int32
	closed   atomic.Bool
	userUUID atomic.Value // string
	deviceID string

	parser *frame.Parser

	writeMu sync.Mutex
	queue   [][]byte
	sending bool

	timerMu sync.Mutex
	timer   *time.Timer
}

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithCloseCallback registers a function invoked exactly once when the
// session finishes closing, letting ChatServer reap bookkeeping without
// Session needing to know ChatServer's internals beyond the Host
// interface.
func WithCloseCallback(fn func(*Session)) Option { return func(s *Session) { s.onClose = fn } }

// New builds a Session bound to conn, in the StateNew state. Call Start to
// begin the read loop.
func New(conn net.Conn, host Host, validator TokenValidator, opts ...Option) *Session {
	s := &Session{
		conn:      conn,
		host:      host,
		validator: validator,
		logger:    slog.Default(),
		parser:    frame.NewParser(),
	}
	s.userUUID.Store("")
	for _, o := range opts {
		o(s)
	}
	return s
}

// UserUUID returns the authenticated user's uuid, or "" pre-auth.
func (s *Session) UserUUID() string { return s.userUUID.Load().(string) }

// State returns the session's current FSM state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start transitions New -> AwaitingAuth, arms the auth timeout, and runs
// the read loop on the calling goroutine until the session closes.
func (s *Session) Start() {
	s.state.Store(int32(AwaitingAuth))
	s.armTimer(authTimeout)
	s.readLoop()
}

func (s *Session) readLoop() {
	for {
		buf := s.parser.Free(0)
		n, err := s.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("chatsession: read error", slog.Any("error", err))
			}
			s.Stop()
			return
		}

		msgs, feedErr := s.parser.Feed(n)

		// A single read can land a valid frame immediately followed by a
		// corrupted one; Feed returns the valid prefix alongside the error,
		// so it's dispatched before the connection is torn down instead of
		// being silently dropped.
		for _, m := range msgs {
			s.dispatch(m)
			if s.closed.Load() {
				return
			}
		}

		if feedErr != nil {
			s.sendError("Invalid message header")
			s.Stop()
			return
		}
	}
}

func (s *Session) dispatch(m frame.Message) {
	switch s.State() {
	case AwaitingAuth:
		s.dispatchAwaitingAuth(m)
	case Authenticated:
		s.dispatchAuthenticated(m)
	}
}

func (s *Session) dispatchAwaitingAuth(m frame.Message) {
	if m.Header.Type != frame.AuthRequest {
		s.sendError("Not authenticated")
		return
	}

	var req authRequestBody
	if err := json.Unmarshal(m.Body, &req); err != nil || req.Token == "" {
		s.failAuth("malformed auth request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	userUUID, ok, err := s.validator.ValidateToken(ctx, req.Token, req.ClientDeviceID)
	if err != nil || !ok {
		s.failAuth("invalid token")
		return
	}

	s.deviceID = req.ClientDeviceID
	s.userUUID.Store(userUUID)
	s.state.Store(int32(Authenticated))
	s.armTimer(heartbeatTimeout)

	if s.host != nil {
		s.host.Register(userUUID, s)
	}

	s.sendJSON(frame.AuthResponse, authResponseBody{Success: true, UserUUID: userUUID})
}

func (s *Session) failAuth(message string) {
	s.sendJSON(frame.AuthResponse, authResponseBody{Success: false, Message: message})
	s.state.Store(int32(Closing))
	s.Stop()
}

func (s *Session) dispatchAuthenticated(m frame.Message) {
	switch m.Header.Type {
	case frame.Heartbeat:
		s.armTimer(heartbeatTimeout)
		s.sendJSON(frame.Heartbeat, heartbeatBody{Timestamp: time.Now().Unix(), Status: "ok"})
	case frame.ChatMessage:
		s.handleChatMessage(m.Body)
	default:
		s.sendError("Unknown message type")
	}
}

func (s *Session) handleChatMessage(body []byte) {
	var msg chatMessageBody
	if err := json.Unmarshal(body, &msg); err != nil {
		s.sendError("Malformed chat message")
		return
	}
	if s.host == nil {
		return
	}
	s.host.RouteChatMessage(s, msg.To, body)
}

// Send frames body as typ and enqueues it for delivery, dropping it (and
// logging) if the write queue is already at MAX_WRITE_QUEUE, per spec
// section 4.3.3. It never blocks the caller on socket I/O.
func (s *Session) Send(body []byte, typ frame.Type) error {
	if s.closed.Load() {
		return fkerr.ErrSessionClosed
	}
	framed := frame.Encode(typ, uint64(time.Now().Unix()), body)

	s.writeMu.Lock()
	if len(s.queue) >= maxWriteQueue {
		s.writeMu.Unlock()
		s.logger.Warn("chatsession: write queue full, dropping frame",
			slog.String("type", typ.String()), slog.Any("user_uuid", s.UserUUID()))
		return fkerr.ErrWriteQueueFull
	}
	s.queue = append(s.queue, framed)
	startWriter := !s.sending
	if startWriter {
		s.sending = true
	}
	s.writeMu.Unlock()

	if startWriter {
		go s.runWriter()
	}
	return nil
}

func (s *Session) sendJSON(typ frame.Type, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Send(body, typ)
}

func (s *Session) sendError(message string) {
	s.sendJSON(frame.ErrorMessage, errorBody{Error: message})
}

// runWriter is the session's single in-flight writer: only one goroutine
// ever runs this loop at a time, started exactly when Send transitions
// sending from false to true.
func (s *Session) runWriter() {
	for {
		s.writeMu.Lock()
		if len(s.queue) == 0 {
			s.sending = false
			s.writeMu.Unlock()
			return
		}
		head := s.queue[0]
		s.writeMu.Unlock()

		if _, err := s.conn.Write(head); err != nil {
			s.Stop()
			return
		}

		s.writeMu.Lock()
		s.queue = s.queue[1:]
		s.writeMu.Unlock()
	}
}

func (s *Session) armTimer(d time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.onTimerFired)
		return
	}
	s.timer.Reset(d)
}

func (s *Session) onTimerFired() {
	if s.State() == AwaitingAuth {
		s.logger.Debug("chatsession: auth timeout", slog.Any("remote", s.conn.RemoteAddr()))
	} else {
		s.logger.Debug("chatsession: heartbeat timeout", slog.Any("user_uuid", s.UserUUID()))
	}
	s.state.Store(int32(Closing))
	s.Stop()
}

// Stop idempotently tears the session down: cancels the timer, closes the
// socket, deregisters from Host, and invokes the close callback exactly
// once. Safe to call from any goroutine, any number of times.
func (s *Session) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(Closing))

	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerMu.Unlock()

	s.conn.Close()

	if uuid := s.UserUUID(); uuid != "" && s.host != nil {
		s.host.Remove(uuid, s)
	}

	s.state.Store(int32(Closed))

	if s.onClose != nil {
		s.onClose(s)
	}
}
