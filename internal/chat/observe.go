// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/nutrichat/internal/model"
)

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current state. Delivery is latest-wins: a slow reader
// skips intermediate versions but always ends on the newest one. The
// returned func unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- model.NewSnapshot(s.version, s.messages)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// publishLocked bumps the version and offers a snapshot to every subscriber.
// Callers hold s.mu, which keeps versions in order per subscriber.
func (s *Session) publishLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := model.NewSnapshot(s.version, s.messages)
	for _, ch := range s.subs {
		// Drop the stale snapshot, if any, so the send never blocks.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
