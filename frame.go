// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the length field that precedes every binary frame.
const HeaderSize = 4

// WrapperSize is the cumulative size of non-body bytes that contribute to the declared length of a
// frame. Eight bytes are accounted for by the request ID and type, while two bytes are accounted for
// by the null byte termination of the body and frame. The length field itself is not included.
const WrapperSize = 8 + 2

// MaxRequestSize is the largest declared length a client may send. This value is outlined in the
// protocol.
const MaxRequestSize = 4096

// MaxFrameSize is the largest declared length accepted when decoding. Servers are allowed to answer
// with frames larger than [MaxRequestSize], but a length beyond this limit means the stream is out
// of sync or hostile.
const MaxFrameSize = 64 * 1024

const (
	// TypeAuth represents a client authentication request frame. Its body carries the server
	// password.
	TypeAuth = 3

	// TypeAuthResponse represents a server authentication response frame. If authentication failed,
	// the request ID will be -1 rather than that of the matching client request.
	TypeAuthResponse = 2

	// TypeExecCommand represents a client request frame that contains a command to be executed by
	// the server.
	TypeExecCommand = 2

	// TypeResponseValue represents a server response frame carrying command output. Clients also use
	// it for the empty frame that marks the end of a response.
	TypeResponseValue = 0
)

const (
	// commandID is the request ID carried by command and authentication frames, and echoed on every
	// fragment of the matching response.
	commandID = 0

	// terminatorID is the request ID of the empty frame sent after every command. Its echo can only
	// arrive after the last fragment of the command's response.
	terminatorID = 1

	// authFailedID is the request ID a server answers with when the password is wrong.
	authFailedID = -1
)

// Frame is a single RCON protocol frame, either a request from a client or a response from a
// server.
type Frame struct {
	// ID is chosen by the client and echoed by the server. Servers should not be trusted to echo
	// [Frame.Type] consistently, so ID is the only field used to correlate responses.
	ID int32

	// Type indicates the purpose of the frame. See [TypeAuth], [TypeExecCommand] and
	// [TypeResponseValue].
	Type int32

	// Body holds the password, the command, or the command output. It may be empty and must never
	// contain a null byte.
	Body []byte
}

// Len returns the declared length of f, which counts every byte following the length field.
func (f Frame) Len() int {
	return len(f.Body) + WrapperSize
}

// Encode returns the binary form of f. It never fails; use [Frame.Validate] or
// [Frame.MarshalBinary] to check that a frame is acceptable to a server.
func (f Frame) Encode() []byte {
	return f.AppendBinary(make([]byte, 0, HeaderSize+f.Len()))
}

// AppendBinary appends the binary form of f to dst and returns the extended slice.
func (f Frame) AppendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.Len()))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.ID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.Type))
	dst = append(dst, f.Body...)
	return append(dst, 0, 0)
}

// Validate reports whether f can be sent to a server.
func (f Frame) Validate() error {
	if i := bytes.IndexByte(f.Body, 0); i >= 0 {
		return errors.Wrapf(ErrInvalidPayload, "null byte at offset %d", i)
	}
	if f.Len() > MaxRequestSize {
		return errors.Wrapf(ErrFrameTooLarge, "length %d exceeds %d", f.Len(), MaxRequestSize)
	}
	return nil
}

// MarshalBinary validates and encodes the receiving [Frame]. This satisfies the
// [encoding.BinaryMarshaler] interface.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

// UnmarshalBinary decodes exactly one binary frame from b into the receiving [Frame]. This
// satisfies the [encoding.BinaryUnmarshaler] interface.
func (f *Frame) UnmarshalBinary(b []byte) error {
	d, err := DecodeFrame(b)
	if err != nil {
		return err
	}
	if !d.Complete() {
		return errors.Wrapf(ErrMalformedFrame, "short frame: have %d bytes, need %d", len(b), d.Need)
	}
	if len(d.Rest) > 0 {
		return errors.Wrapf(ErrMalformedFrame, "%d trailing bytes after frame", len(d.Rest))
	}
	*f = d.Frame
	return nil
}

// EqualTo determines if the provided Frame content matches the receiving Frame content.
func (f Frame) EqualTo(f2 Frame) bool {
	switch {
	case f.ID != f2.ID:
		return false
	case f.Type != f2.Type:
		return false
	case !bytes.Equal(f.Body, f2.Body):
		return false
	}
	return true
}

// Clone returns a copy of f that shares no memory with it.
func (f Frame) Clone() Frame {
	if f.Body != nil {
		f.Body = bytes.Clone(f.Body)
	}
	return f
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{ID:%d Type:%d Body:%q}", f.ID, f.Type, f.Body)
}

// Decoded is the result of a [DecodeFrame] call. Exactly one of two cases holds: either Complete
// reports true and Frame and Rest are set, or Need holds the minimum total buffer length required
// before decoding can make progress.
type Decoded struct {
	Frame Frame

	// Rest holds the bytes following the decoded frame. It aliases the decoded buffer.
	Rest []byte

	// Need is non-zero when the buffer does not yet hold a whole frame.
	Need int
}

// Complete reports whether d holds a decoded frame.
func (d Decoded) Complete() bool {
	return d.Need == 0
}

// DecodeFrame decodes the frame at the start of buf using the [MaxFrameSize] limit.
func DecodeFrame(buf []byte) (Decoded, error) {
	return DecodeFrameLimit(buf, MaxFrameSize)
}

// DecodeFrameLimit decodes the frame at the start of buf, rejecting declared lengths above limit.
// It has no side effects, so it can be called again with the same or a longer buffer as more
// bytes arrive. The decoded body never aliases buf.
func DecodeFrameLimit(buf []byte, limit int) (Decoded, error) {
	if len(buf) < HeaderSize {
		return Decoded{Need: HeaderSize}, nil
	}

	length := int32(binary.LittleEndian.Uint32(buf))
	if length < WrapperSize {
		return Decoded{}, errors.Wrapf(ErrMalformedFrame, "length %d smaller than %d", length, WrapperSize)
	}
	if int64(length) > int64(limit) {
		return Decoded{}, errors.Wrapf(ErrMalformedFrame, "length %d larger than %d", length, limit)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return Decoded{Need: total}, nil
	}

	if pad := buf[total-2 : total]; pad[0] != 0 || pad[1] != 0 {
		return Decoded{}, errors.Wrapf(ErrMalformedFrame, "incorrect padding %#x", pad)
	}

	f := Frame{
		ID:   int32(binary.LittleEndian.Uint32(buf[4:])),
		Type: int32(binary.LittleEndian.Uint32(buf[8:])),
	}
	if body := buf[12 : total-2]; len(body) > 0 {
		f.Body = bytes.Clone(body)
	}

	return Decoded{Frame: f, Rest: buf[total:]}, nil
}
