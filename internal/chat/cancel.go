// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// =============================================================================
// CANCEL FUNCTION MANAGEMENT (THREAD-SAFE)
// =============================================================================

// cancelManager holds the cancel function of the active exchange, keyed by
// the exchange token so a finishing exchange cannot clear its successor.
type cancelManager struct {
	mu         sync.Mutex
	exchange   string
	cancelFunc context.CancelFunc
}

func newCancelManager() *cancelManager {
	return &cancelManager{}
}

// replace installs the cancel function of a new exchange and cancels the
// previous one. It returns the superseded exchange token, if any.
func (cm *cancelManager) replace(exchange string, fn context.CancelFunc) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	prev := cm.exchange
	if cm.cancelFunc != nil {
		cm.cancelFunc()
	}
	cm.exchange = exchange
	cm.cancelFunc = fn
	return prev
}

// cancel cancels the active exchange, if any, and returns its token.
// Safe to call multiple times.
func (cm *cancelManager) cancel() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	prev := cm.exchange
	if cm.cancelFunc != nil {
		cm.cancelFunc()
	}
	cm.exchange = ""
	cm.cancelFunc = nil
	return prev
}

// release forgets exchange's cancel function if it is still the active
// one. The caller cancels its own context.
func (cm *cancelManager) release(exchange string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.exchange == exchange {
		cm.exchange = ""
		cm.cancelFunc = nil
	}
}
