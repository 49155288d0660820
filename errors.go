// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
)

// Errors describing why an operation failed. Compare against them with [errors.Is]; the returned
// error usually carries more context and wraps the underlying transport error as well.
var (
	// ErrConnection is returned when the transport to the server could not be established.
	ErrConnection = errors.New("rcon: connection failed")

	// ErrConnectionClosed is returned when the stream was closed or reset while the session was
	// using it, or when a closed session is used again.
	ErrConnectionClosed = errors.New("rcon: connection closed")

	// ErrTimeout is returned when a deadline elapsed before the server answered.
	ErrTimeout = errors.New("rcon: timeout")

	// ErrMalformedFrame is returned when the server sent bytes that do not form a valid frame, or a
	// response that is not valid UTF-8.
	ErrMalformedFrame = errors.New("rcon: malformed frame")

	// ErrInvalidPassword is returned when the server rejected the password.
	ErrInvalidPassword = errors.New("rcon: invalid password")

	// ErrNotAuthenticated is returned when a command is executed on a session that has not
	// completed authentication.
	ErrNotAuthenticated = errors.New("rcon: not authenticated")

	// ErrAlreadyConnected is returned when a stream is attached to a session that already has one.
	ErrAlreadyConnected = errors.New("rcon: session already connected")

	// ErrInvalidPayload is returned when a frame body contains a null byte.
	ErrInvalidPayload = errors.New("rcon: payload contains null byte")

	// ErrFrameTooLarge is returned when a frame exceeds [MaxRequestSize].
	ErrFrameTooLarge = errors.New("rcon: frame too large")
)

// OpError is the error type returned by [Session] methods when the connection fails. It is modelled
// on [net.OpError].
type OpError struct {
	// Op is the operation that failed: "dial", "auth" or "exec".
	Op string

	// Addr is the remote address, if known.
	Addr string

	// Kind is one of the package's sentinel errors.
	Kind error

	// Err is the underlying error. It may be nil.
	Err error
}

func (e *OpError) Error() string {
	s := e.Kind.Error() + ": " + e.Op
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the underlying error to [errors.Is] and [errors.As].
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Timeout reports whether the error was caused by an elapsed deadline.
func (e *OpError) Timeout() bool {
	return e.Kind == ErrTimeout
}

// classify maps a transport error to one of the package's error kinds. Errors that already carry a
// kind are returned unchanged.
func classify(op, addr string, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	for _, kind := range []error{ErrMalformedFrame, ErrInvalidPassword, ErrNotAuthenticated, ErrAlreadyConnected, ErrInvalidPayload, ErrFrameTooLarge} {
		if errors.Is(err, kind) {
			return err
		}
	}

	// Anything other than an elapsed deadline means the stream is gone.
	kind := ErrConnectionClosed
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrTimeout
	}

	return &OpError{Op: op, Addr: addr, Kind: kind, Err: err}
}
