package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox holds at most one message. Put replaces any unconsumed message.
type Mailbox struct {
	mu     sync.Mutex
	msg    []byte
	full   bool
	notify chan struct{}

	dropped atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Put stores msg and reports whether an unconsumed message was discarded.
// It never blocks.
func (m *Mailbox) Put(msg []byte) bool {
	m.mu.Lock()
	replaced := m.full
	m.msg, m.full = msg, true
	m.mu.Unlock()

	if replaced {
		m.dropped.Add(1)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return replaced
}

// Take removes and returns the message, or reports false if the mailbox is empty.
func (m *Mailbox) Take() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return nil, false
	}
	msg := m.msg
	m.msg, m.full = nil, false
	return msg, true
}

// Pending reports whether a message is waiting.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}

// Wait blocks until a message is pending or ctx is done. It does not
// consume the message.
func (m *Mailbox) Wait(ctx context.Context) error {
	for {
		if m.Pending() {
			return nil
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dropped returns how many messages were replaced before being consumed.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
