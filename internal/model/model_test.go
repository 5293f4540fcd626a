// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_Constructors(t *testing.T) {
	text := NewUserText("hi")
	assert.True(t, text.IsUser)
	assert.Equal(t, TypeText, text.Type)
	assert.NotEmpty(t, text.ID)

	img := NewUserImage("/tmp/lunch.jpg")
	assert.Equal(t, TypeImage, img.Type)
	require.NotNil(t, img.ImageRef)
	assert.Equal(t, "/tmp/lunch.jpg", img.ImageRef.Path)
	assert.Empty(t, img.Content)

	voice := NewUserVoice("two eggs", "/tmp/note.m4a")
	assert.Equal(t, TypeVoice, voice.Type)
	assert.Equal(t, "two eggs", voice.Content)
	assert.Equal(t, "/tmp/note.m4a", voice.VoiceRef.Path)

	ph := NewPlaceholder()
	assert.False(t, ph.IsUser)
	assert.True(t, ph.Pending)
	assert.False(t, ph.Truncated)
	assert.NotEqual(t, text.ID, ph.ID)
}

func TestMessage_SameComparesIdentityOnly(t *testing.T) {
	a := NewPlaceholder()
	b := a
	b.Content = "changed"
	assert.True(t, a.Same(b))
	assert.False(t, a.Same(NewPlaceholder()))
}

func TestMessage_CloneDoesNotAlias(t *testing.T) {
	img := NewUserImage("/tmp/a.png")
	c := img.Clone()
	c.ImageRef.URL = "https://cdn/x.png"
	assert.Empty(t, img.ImageRef.URL)
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

func TestSnapshot_IsImmutableCopy(t *testing.T) {
	msgs := []Message{NewUserImage("/a.png"), NewPlaceholder()}
	snap := NewSnapshot(7, msgs)

	msgs[0].ImageRef.URL = "mutated"
	msgs[1].Content = "mutated"

	assert.Equal(t, uint64(7), snap.Version)
	assert.Equal(t, 2, snap.Len())
	assert.Empty(t, snap.Messages[0].ImageRef.URL)
	last, ok := snap.Last()
	require.True(t, ok)
	assert.Empty(t, last.Content)

	_, ok = NewSnapshot(0, nil).Last()
	assert.False(t, ok)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistoryEntry_JSON(t *testing.T) {
	raw := `{"content":"Grilled salmon","is_user":true,"created_at":"2025-03-01T12:00:00Z",
		"image_url":"https://cdn/salmon.jpg","transcribed_text":"salmon"}`

	var h HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &h))
	assert.True(t, h.IsUser)
	assert.True(t, h.HasImage())
	assert.False(t, h.HasVoice())
	assert.Equal(t, "salmon", h.TranscribedText)
	assert.Equal(t, 2025, h.CreatedAt.Year())
}

func TestHistoryEntry_ToMessage(t *testing.T) {
	m := HistoryEntry{Content: "note", IsUser: true, VoiceURL: "https://cdn/v.m4a"}.ToMessage()
	assert.Equal(t, TypeVoice, m.Type)
	assert.Equal(t, "https://cdn/v.m4a", m.VoiceRef.URL)
	assert.Empty(t, m.VoiceRef.Path)

	plain := HistoryEntry{Content: "reply"}.ToMessage()
	assert.Equal(t, TypeText, plain.Type)
	assert.False(t, plain.IsUser)
}

func TestLatestUser(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{Content: "old", IsUser: true, ImageURL: "a", CreatedAt: base},
		{Content: "new", IsUser: true, ImageURL: "b", CreatedAt: base.Add(time.Minute)},
		{Content: "bot", IsUser: false, ImageURL: "c", CreatedAt: base.Add(2 * time.Minute)},
		{Content: "text", IsUser: true, CreatedAt: base.Add(3 * time.Minute)},
	}

	got, ok := LatestUser(entries, HistoryEntry.HasImage)
	require.True(t, ok)
	assert.Equal(t, "new", got.Content)

	_, ok = LatestUser(entries, HistoryEntry.HasVoice)
	assert.False(t, ok)
}
