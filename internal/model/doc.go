// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages.
//
// # Key Types
//
//   - Message: Single chat entry (text, image or voice) identified by ID
//   - AssetRef: Local path and remote URL of an attached image or recording
//   - HistoryEntry: Server-side chat record delivered at the end of a stream
//   - Snapshot: Immutable, versioned copy of a message list
//
// # Usage
//
//	user := model.NewUserText("How much protein is in an egg?")
//	reply := model.NewPlaceholder()
//	snap := model.NewSnapshot(1, []model.Message{user, reply})
package model
