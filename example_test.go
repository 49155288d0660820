// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcrcon_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"

	"github.com/MrReacher/async-mcrcon"
)

func ExampleFrame_WriteTo() {
	var buf bytes.Buffer

	f := mcrcon.Frame{
		ID:   42,
		Type: mcrcon.TypeExecCommand,
		Body: []byte("info"),
	}
	n, err := f.WriteTo(&buf)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Wrote %d bytes: %0x\n", n, buf.Bytes())

	// Output:
	// Wrote 18 bytes: 0e0000002a00000002000000696e666f0000
}

func ExampleDecodeFrame() {
	bs, err := hex.DecodeString("0e0000002a00000002000000696e666f0000")
	if err != nil {
		log.Fatal(err)
	}

	// Feed the frame in two pieces, as a stream might deliver it.
	d, err := mcrcon.DecodeFrame(bs[:6])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Complete: %t, need %d bytes\n", d.Complete(), d.Need)

	d, err = mcrcon.DecodeFrame(bs)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Complete: %t, %v, %d bytes left\n", d.Complete(), d.Frame, len(d.Rest))

	// Output:
	// Complete: false, need 18 bytes
	// Complete: true, Frame{ID:42 Type:2 Body:"info"}, 0 bytes left
}

func ExampleDial() {
	s, err := mcrcon.Dial(context.Background(), "192.0.2.1", 25575, "super secret password", mcrcon.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	out, err := s.Execute(context.Background(), "list")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Execute result: %q\n", out)
}

func ExampleWithSession() {
	ctx := context.Background()

	err := mcrcon.WithSession(ctx, "192.0.2.1", 25575, "super secret password", mcrcon.Config{},
		func(s *mcrcon.Session) error {
			for _, cmd := range []string{"save-off", "save-all", "save-on"} {
				if _, err := s.Execute(ctx, cmd); err != nil {
					return err
				}
			}
			return nil
		},
	)
	if err != nil {
		log.Fatal(err)
	}
}

func ExampleSession_Attach() {
	// Session also accepts a stream the caller opened, for example over a Unix socket.
	conn, err := net.Dial("unix", "/run/game/rcon.sock")
	if err != nil {
		log.Fatal(err)
	}

	s := mcrcon.NewSession(mcrcon.Config{})
	defer s.Close()

	err = s.Attach(context.Background(), conn, "super secret password")
	if err != nil {
		log.Fatal(err)
	}
}
