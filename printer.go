// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/memchat/internal/chat"
	"github.com/jeranaias/memchat/internal/session"
)

// replyPrinter writes the assistant reply of one exchange as it grows.
// Snapshots before the exchange are identified by message count.
type replyPrinter struct {
	out     io.Writer
	skip    int
	printed string
}

func newReplyPrinter(out io.Writer, before *session.Session) *replyPrinter {
	return &replyPrinter{out: out, skip: len(before.Messages)}
}

// update prints whatever the reply gained since the last call.
func (p *replyPrinter) update(s *session.Session) {
	if len(s.Messages) <= p.skip {
		return
	}
	for _, m := range s.Messages[p.skip:] {
		if m.IsUser() {
			continue
		}
		if !strings.HasPrefix(m.Text, p.printed) {
			// Rewritten text (an error reply); print it whole on a new line.
			if p.printed != "" {
				fmt.Fprintln(p.out)
			}
			p.printed = ""
		}
		fmt.Fprint(p.out, m.Text[len(p.printed):])
		p.printed = m.Text
		return
	}
}

// send runs fn while printing the reply from controller snapshots.
func send(ctrl *chat.Controller, out io.Writer, fn func() error) error {
	p := newReplyPrinter(out, ctrl.Snapshot())
	snaps, unsubscribe := ctrl.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range snaps {
			p.update(s)
		}
	}()

	err := fn()
	unsubscribe()
	<-done

	p.update(ctrl.Snapshot())
	if p.printed != "" {
		fmt.Fprintln(out)
	}
	return err
}
