// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// State is the lifecycle stage of a [Session].
type State int32

const (
	// StateUnconnected is the state of a new session. Only Connect and Attach are useful.
	StateUnconnected State = iota

	// StateAuthenticating is held while the handshake is in progress.
	StateAuthenticating

	// StateReady means the server accepted the password and commands may be executed.
	StateReady

	// StateClosed is terminal. The stream has been released and the session cannot be reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Session is an RCON session that manages a single authenticated connection to an RCON server.
//
// RCON allows a single request in flight per connection: a command is written, followed by an empty
// terminator frame, and every frame the server sends until the terminator's echo belongs to that
// command. Session serializes its methods to uphold this, so concurrent callers queue rather than
// interleave. Callers that need real concurrency should open independent sessions.
//
// Any transport failure, timeout or malformed frame releases the connection and leaves the session
// in [StateClosed]. Partial frames are never carried over to a new connection; create a new Session
// to reconnect.
type Session struct {
	// state holds a State. It is atomic so State can be observed while a command is in flight.
	state atomic.Int32

	// mu serializes the handshake, commands and Close.
	mu sync.Mutex

	// conn is the underlying stream, owned exclusively by the session once connected.
	conn net.Conn

	// rd buffers bytes read from conn that do not yet form a whole frame.
	rd *frameReader

	// addr holds the remote address used in logs and errors. It is atomic so RemoteAddr does not
	// wait for a command in flight.
	addr atomic.Pointer[string]

	cfg Config
}

// NewSession creates an unconnected [Session] configured by the provided config.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// Dial creates a [Session], connects it to host:port and authenticates with password. The
// connection is released if any step fails.
func Dial(ctx context.Context, host string, port int, password string, cfg Config) (*Session, error) {
	s := NewSession(cfg)
	if err := s.Connect(ctx, host, port, password); err != nil {
		return nil, err
	}
	return s, nil
}

// WithSession dials a [Session], passes it to fn and closes it when fn returns or panics. An error
// from fn takes precedence over an error closing the session.
func WithSession(ctx context.Context, host string, port int, password string, cfg Config, fn func(*Session) error) (err error) {
	s, err := Dial(ctx, host, port, password, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(s)
}

// State returns the current lifecycle state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the address of the server, or an empty string if the session never connected.
// It does not block while a command is in flight.
func (s *Session) RemoteAddr() string {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return ""
}

// Connect opens a TCP connection to host:port with the configured [Dialer] and authenticates with
// password. Calling Connect on a session that is already authenticated does nothing.
func (s *Session) Connect(ctx context.Context, host string, port int, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return errors.WithMessage(ErrConnectionClosed, "connect")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	conn, err := s.cfg.dialer().DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return &OpError{Op: "dial", Addr: addr, Kind: ErrConnection, Err: err}
	}
	s.addr.Store(&addr)

	return s.handshake(ctx, conn, password)
}

// Attach authenticates with password over a stream the caller already opened, such as a Unix socket
// or a [crypto/tls.Conn]. Ownership of conn passes to the session: it is closed on failure and by
// [Session.Close]. Attach only succeeds on an unconnected session.
func (s *Session) Attach(ctx context.Context, conn net.Conn, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateUnconnected {
		_ = conn.Close()
		kind := ErrAlreadyConnected
		if st == StateClosed {
			kind = ErrConnectionClosed
		}
		return errors.Wrapf(kind, "attach on %s session", st)
	}
	if ra := conn.RemoteAddr(); ra != nil {
		addr := ra.String()
		s.addr.Store(&addr)
	}

	return s.handshake(ctx, conn, password)
}

// handshake takes ownership of conn and runs the authentication exchange. It must be called with
// mu held.
func (s *Session) handshake(ctx context.Context, conn net.Conn, password string) (err error) {
	s.conn = conn
	s.rd = newFrameReader(conn, s.cfg.readBufferSize(), s.cfg.maxFrameSize())
	s.state.Store(int32(StateAuthenticating))

	defer func() {
		if err != nil {
			_ = s.closeLocked()
		}
	}()

	disarm := s.arm(ctx)
	defer disarm()

	auth := Frame{ID: commandID, Type: TypeAuth, Body: []byte(password)}
	if err := auth.Validate(); err != nil {
		return err
	}
	if err := s.send(ctx, "auth", auth); err != nil {
		return err
	}

	resp, err := s.recv(ctx, "auth")
	if err != nil {
		return err
	}
	// Source servers answer with an empty response value ahead of the real auth response.
	if s.cfg.SkipEmptyAuthPreamble && resp.ID != authFailedID && resp.Type == TypeResponseValue && len(resp.Body) == 0 {
		resp, err = s.recv(ctx, "auth")
		if err != nil {
			return err
		}
	}

	if resp.ID == authFailedID {
		s.log(ctx, slog.LevelWarn, "authentication rejected")
		return &OpError{Op: "auth", Addr: s.RemoteAddr(), Kind: ErrInvalidPassword}
	}

	s.state.Store(int32(StateReady))
	s.log(ctx, slog.LevelInfo, "session established")
	return nil
}

// Execute sends command to the server and returns its output, reassembled from however many frames
// the server split it into. An empty response is returned as an empty string.
func (s *Session) Execute(ctx context.Context, command string) (out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return "", &OpError{Op: "exec", Addr: s.RemoteAddr(), Kind: ErrNotAuthenticated}
	}

	cmd := Frame{ID: commandID, Type: TypeExecCommand, Body: []byte(command)}
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	defer func() {
		if err != nil {
			_ = s.closeLocked()
		}
	}()

	disarm := s.arm(ctx)
	defer disarm()

	terminator := Frame{ID: terminatorID, Type: TypeResponseValue}
	if err := s.send(ctx, "exec", cmd, terminator); err != nil {
		return "", err
	}

	var body []byte
	fragments := 0
	for {
		f, err := s.recv(ctx, "exec")
		if err != nil {
			return "", err
		}
		if f.ID != commandID {
			break
		}
		body = append(body, f.Body...)
		fragments++
	}

	if !utf8.Valid(body) {
		return "", &OpError{
			Op:   "exec",
			Addr: s.RemoteAddr(),
			Kind: ErrMalformedFrame,
			Err:  errors.New("response is not valid UTF-8"),
		}
	}

	s.log(ctx, slog.LevelDebug, "command executed",
		slog.Int("fragments", fragments),
		slog.Int("bytes", len(body)),
		slog.Int("buffered", s.rd.buffered()),
	)
	return string(body), nil
}

// Close releases the session's connection. It is safe to call more than once, and does nothing on a
// session that never connected.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.conn == nil {
		if s.State() != StateUnconnected {
			s.state.Store(int32(StateClosed))
		}
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	s.rd = nil
	s.state.Store(int32(StateClosed))
	s.log(context.Background(), slog.LevelInfo, "session closed")

	return err
}

// send writes frames to the connection in a single write.
func (s *Session) send(ctx context.Context, op string, frames ...Frame) error {
	var bs []byte
	for _, f := range frames {
		s.logFrame(ctx, "sending frame", f)
		bs = f.AppendBinary(bs)
	}

	if _, err := s.conn.Write(bs); err != nil {
		return s.fail(ctx, op, err)
	}
	return nil
}

// recv reads the next whole frame from the connection.
func (s *Session) recv(ctx context.Context, op string) (Frame, error) {
	f, err := s.rd.readFrame()
	if err != nil {
		return Frame{}, s.fail(ctx, op, err)
	}
	s.logFrame(ctx, "received frame", f)

	return f, nil
}

// fail converts a transport error into an error carrying one of the package's kinds. When ctx is
// done, its error replaces the deadline error that arm forced onto the connection.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrMalformedFrame) {
		return err
	}

	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	} else if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		// The connection deadline can fire before the context's own timer does.
		err = context.DeadlineExceeded
	}
	return classify(op, s.RemoteAddr(), err)
}

// arm applies the configured timeout and any deadline or cancellation of ctx to the connection. The
// returned function lifts them again.
func (s *Session) arm(ctx context.Context) (disarm func()) {
	var deadline time.Time
	if t := s.cfg.timeout(); t > 0 {
		deadline = time.Now().Add(t)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	conn := s.conn
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetDeadline(time.Now())
	})

	return func() {
		if !stop() {
			<-fired
		}
		_ = conn.SetDeadline(time.Time{})
	}
}

// withTimeout derives a context bounded by the configured timeout.
func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := s.cfg.timeout(); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (s *Session) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.LogAttrs(ctx, level, msg, append(attrs, slog.String("addr", s.RemoteAddr()))...)
}

// logFrame sends a log record containing the provided log message and frame to the session's
// logger. When the logger is nil or is not level set for debug records, this function is
// essentially a NOP. If the provided frame is an outbound authentication frame, its body and length
// are obfuscated to prevent leaking a plaintext password into logs.
func (s *Session) logFrame(ctx context.Context, msg string, f Frame) {
	if s.cfg.Logger == nil || !s.cfg.Logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}

	if f.Type == TypeAuth && !s.cfg.LogOutboundAuthPackets {
		f.Body = []byte{'x', 'x', 'x', 'x', 'x'}
	}

	s.cfg.Logger.LogAttrs(ctx, slog.LevelDebug, msg,
		slog.String("addr", s.RemoteAddr()),
		slog.String("frame", hex.EncodeToString(f.Encode())),
	)
}
