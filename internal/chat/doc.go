// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat maintains the message list of one chat thread.
//
// A Session appends the user's message and an empty assistant placeholder
// before any network call, accumulates streamed deltas into the placeholder in
// arrival order, and reconciles the terminal history event into locally
// composed image and voice messages without dropping their local files.
//
// Only one send may stream at a time. CancelPending stops it and leaves the
// partial reply marked Truncated; Clear stops it and empties the list.
//
// # Usage
//
//	session := chat.New(chat.FromStreamClient(streams),
//	    chat.WithLogger(logger),
//	    chat.WithTimeout(3*time.Minute))
//
//	updates, unsubscribe := session.Subscribe()
//	defer unsubscribe()
//
//	reply, err := session.SendText(ctx, "What should I eat after a run?")
package chat
