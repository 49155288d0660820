// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package mcrcon provides a client for the Source RCON protocol as described by Valve Software at
https://developer.valvesoftware.com/wiki/Source_RCON_Protocol, and as spoken by Minecraft servers.

A [Session] owns a single connection. It authenticates once and then executes commands one at a
time, reassembling responses that the server splits over several frames. RCON has no end of
response marker, so after every command the session sends an empty frame with a distinct request
ID and treats the echo of that frame as the end of the response:

	err := mcrcon.WithSession(ctx, "127.0.0.1", 25575, "secret", mcrcon.Config{},
		func(s *mcrcon.Session) error {
			out, err := s.Execute(ctx, "list")
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	)
*/
package mcrcon
