// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns one HTTP request with a server-sent-events response
// into a lazy, cancellable sequence of chat events.
//
// # Wire Format
//
// Events are separated by a blank line and carry one or more "data:" lines.
// A data payload is either the literal [DONE], a JSON envelope, or plain text:
//
//	data: {"type":"message","content":"Two eggs have about "}
//
//	data: {"type":"message","content":"12 g of protein."}
//
//	data: {"type":"history","messages":[...]}
//
//	data: [DONE]
//
// Envelope types are "message" (delta), "history" (terminal), and "error"
// (terminal server error). Unknown types and empty payloads are skipped with a
// debug log. Anything that is not an envelope is a delta, byte for byte, so
// deltas always concatenate to the full reply. Invalid JSON is only an error
// in a frame with an event name.
//
// # Usage
//
//	for ev, err := range client.StreamText(ctx, "hi").Events() {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Kind == stream.KindDelta {
//	        fmt.Print(ev.Text)
//	    }
//	}
package stream
