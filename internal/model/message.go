// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVoice MessageType = "voice"
)

// String returns the string representation of the type.
func (t MessageType) String() string {
	return string(t)
}

// =============================================================================
// ASSET REFERENCE
// =============================================================================

// AssetRef points at an image or audio asset. Path is the local file the user
// supplied; URL is the server copy learned from history.
type AssetRef struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (a *AssetRef) clone() *AssetRef {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single entry of a chat thread.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	IsUser    bool        `json:"is_user"`

	ImageRef        *AssetRef `json:"image_ref,omitempty"`
	VoiceRef        *AssetRef `json:"voice_ref,omitempty"`
	TranscribedText string    `json:"transcribed_text,omitempty"`

	// Pending is set on an assistant placeholder while its stream is open.
	Pending bool `json:"-"`

	// Truncated marks an assistant message whose stream was cancelled or
	// failed before completion.
	Truncated bool `json:"truncated,omitempty"`
}

func newMessage(t MessageType, content string, isUser bool) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      t,
		Content:   content,
		Timestamp: time.Now(),
		IsUser:    isUser,
	}
}

// NewUserText creates a user text message.
func NewUserText(content string) Message {
	return newMessage(TypeText, content, true)
}

// NewUserImage creates a user image message backed by a local file.
func NewUserImage(localPath string) Message {
	m := newMessage(TypeImage, "", true)
	m.ImageRef = &AssetRef{Path: localPath}
	return m
}

// NewUserVoice creates a user voice message whose content is the transcript.
func NewUserVoice(transcript, localPath string) Message {
	m := newMessage(TypeVoice, transcript, true)
	m.VoiceRef = &AssetRef{Path: localPath}
	return m
}

// NewPlaceholder creates an empty assistant message awaiting stream deltas.
func NewPlaceholder() Message {
	m := newMessage(TypeText, "", false)
	m.Pending = true
	return m
}

// Same reports whether two messages have the same identity.
func (m Message) Same(other Message) bool {
	return m.ID == other.ID
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	m.ImageRef = m.ImageRef.clone()
	m.VoiceRef = m.VoiceRef.clone()
	return m
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable, versioned view of a message list.
type Snapshot struct {
	Version  uint64
	Messages []Message
}

// NewSnapshot deep-copies msgs into a snapshot.
func NewSnapshot(version uint64, msgs []Message) Snapshot {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return Snapshot{Version: version, Messages: out}
}

// Len returns the number of messages.
func (s Snapshot) Len() int {
	return len(s.Messages)
}

// Last returns the final message, if any.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
