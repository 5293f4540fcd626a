// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is a server-side chat record. The server authors these; the
// client only reads them.
type HistoryEntry struct {
	Content         string    `json:"content"`
	IsUser          bool      `json:"is_user"`
	CreatedAt       time.Time `json:"created_at"`
	VoiceURL        string    `json:"voice_url,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	TranscribedText string    `json:"transcribed_text,omitempty"`
}

// HasImage reports whether the entry references an uploaded image.
func (h HistoryEntry) HasImage() bool { return h.ImageURL != "" }

// HasVoice reports whether the entry references an uploaded recording.
func (h HistoryEntry) HasVoice() bool { return h.VoiceURL != "" }

// ToMessage converts a server record into a local message.
func (h HistoryEntry) ToMessage() Message {
	m := Message{
		ID:              uuid.New().String(),
		Type:            TypeText,
		Content:         h.Content,
		Timestamp:       h.CreatedAt,
		IsUser:          h.IsUser,
		TranscribedText: h.TranscribedText,
	}
	switch {
	case h.HasImage():
		m.Type = TypeImage
		m.ImageRef = &AssetRef{URL: h.ImageURL}
	case h.HasVoice():
		m.Type = TypeVoice
		m.VoiceRef = &AssetRef{URL: h.VoiceURL}
	}
	return m
}

// LatestUser returns the most recent user entry matching keep. Entries are
// scanned newest first by CreatedAt; ties fall back to list order, later wins.
func LatestUser(entries []HistoryEntry, keep func(HistoryEntry) bool) (HistoryEntry, bool) {
	best := -1
	for i, e := range entries {
		if !e.IsUser || !keep(e) {
			continue
		}
		if best < 0 || !e.CreatedAt.Before(entries[best].CreatedAt) {
			best = i
		}
	}
	if best < 0 {
		return HistoryEntry{}, false
	}
	return entries[best], true
}
