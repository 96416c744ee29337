// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	"github.com/jeranaias/memchat/internal/session"
)

// subscribers fans snapshots out to observers. Each channel has a buffer of
// one holding the newest unread snapshot.
type subscribers struct {
	mu     sync.Mutex
	next   int
	chans  map[int]chan *session.Session
	closed bool
}

func newSubscribers() *subscribers {
	return &subscribers{chans: make(map[int]chan *session.Session)}
}

func (s *subscribers) add() (<-chan *session.Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *session.Session, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.next
	s.next++
	s.chans[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.chans[id]; ok {
				delete(s.chans, id)
				close(c)
			}
		})
	}
}

// publish delivers snap to every subscriber, replacing an unread older
// snapshot. It never blocks.
func (s *subscribers) publish(snap *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.chans {
		delete(s.chans, id)
		close(ch)
	}
}
