// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// DefaultTimeout is the default amount of time allowed for a session to complete the handshake or a
// command round trip.
const DefaultTimeout = 15 * time.Second

// defaultReadBufferSize is the size of the chunks read from the stream.
const defaultReadBufferSize = 4096

// Dialer opens the byte stream a [Session] speaks over. [*net.Dialer] satisfies it, and so does
// anything wrapping it with TLS, proxies or instrumentation.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config contains settings to control [Session] instances. The zero value is ready to use.
type Config struct {
	// Timeout limits the amount of time a session can spend on the handshake or on a single command
	// round trip. It is applied as a deadline on the connection, in addition to any deadline on the
	// context passed to the call. A value of zero will inform the session to use the
	// [DefaultTimeout]; a negative value disables the limit.
	Timeout time.Duration

	// Dialer opens connections for [Session.Connect]. A nil Dialer uses a zero [net.Dialer].
	Dialer Dialer

	// Logger receives log entries from a session. A nil Logger disables logging.
	Logger *slog.Logger

	// LogOutboundAuthPackets is a flag that must be explicitly enabled when the session is created.
	// This field enables debug logging to include outbound authentication frames, exposing server
	// passwords in plaintext. When this field is false (the default value,) outbound authentication
	// frames will be sanitized to hide both the password text and frame length.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool

	// SkipEmptyAuthPreamble makes the handshake discard an empty response value frame received ahead
	// of the authentication response, as Source engine servers send. By default the first frame
	// after the authentication request is the verdict, whatever its type.
	SkipEmptyAuthPreamble bool

	// MaxFrameSize is the largest declared frame length accepted from the server. A value of zero
	// uses [MaxFrameSize].
	MaxFrameSize int

	// ReadBufferSize is the size of each read from the stream. A value of zero uses 4096 bytes.
	ReadBufferSize int
}

func (c Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) dialer() Dialer {
	if c.Dialer == nil {
		return &net.Dialer{}
	}
	return c.Dialer
}

func (c Config) maxFrameSize() int {
	if c.MaxFrameSize <= 0 {
		return MaxFrameSize
	}
	return c.MaxFrameSize
}

func (c Config) readBufferSize() int {
	if c.ReadBufferSize <= 0 {
		return defaultReadBufferSize
	}
	return c.ReadBufferSize
}
