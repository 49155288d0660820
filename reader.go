// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// frameReader reassembles frames from a stream that may deliver them in arbitrary chunks. Bytes
// read past the end of a frame are kept for the next call.
type frameReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	limit int
}

func newFrameReader(r io.Reader, chunkSize, limit int) *frameReader {
	return &frameReader{
		r:     r,
		chunk: make([]byte, chunkSize),
		limit: limit,
	}
}

// readFrame blocks until a whole frame is buffered and returns it. A stream that ends before the
// frame is complete yields io.EOF if nothing was buffered and io.ErrUnexpectedEOF otherwise.
func (fr *frameReader) readFrame() (Frame, error) {
	for {
		d, err := DecodeFrameLimit(fr.buf, fr.limit)
		if err != nil {
			return Frame{}, err
		}
		if d.Complete() {
			fr.buf = append(fr.buf[:0], d.Rest...)
			return d.Frame, nil
		}

		if err := fr.fill(d.Need); err != nil {
			return Frame{}, err
		}
	}
}

// fill reads from the stream until at least n bytes are buffered.
func (fr *frameReader) fill(n int) error {
	for len(fr.buf) < n {
		m, err := fr.r.Read(fr.chunk)
		fr.buf = append(fr.buf, fr.chunk[:m]...)
		if err == nil {
			continue
		}
		if len(fr.buf) >= n {
			return nil
		}
		if errors.Is(err, io.EOF) && len(fr.buf) > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// buffered returns the number of bytes held for the next frame.
func (fr *frameReader) buffered() int {
	return len(fr.buf)
}

// WriteTo writes the binary representation of the frame to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	bs, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}

// ReadFrom reads exactly one binary frame from r into the receiving [Frame]. It never reads past the
// end of the frame. This method satisfies the [io.ReaderFrom] interface.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		return int64(n), err
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length < WrapperSize || length > MaxFrameSize {
		return int64(n), errors.Wrapf(ErrMalformedFrame, "declared length %d", length)
	}

	b := make([]byte, HeaderSize+int(length))
	copy(b, header[:])
	m, err := io.ReadFull(r, b[HeaderSize:])
	if err != nil {
		return int64(n + m), err
	}

	return int64(n + m), f.UnmarshalBinary(b)
}
