package capture

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMailboxClosed is returned by Take once the mailbox has been closed.
var ErrMailboxClosed = errors.New("mailbox closed")

// MailboxStats reports mailbox throughput counters.
type MailboxStats struct {
	Delivered uint64
	Dropped   uint64
}

// Mailbox is a single-slot handoff between a frame source and one consumer.
// Put never waits for the consumer: a frame still pending when a newer one
// arrives is released and counted as dropped, so the consumer always works
// on the freshest frame and no backlog can form.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores f, replacing any undelivered frame. The mailbox takes over the
// caller's reference. It reports false when the mailbox is closed, in which
// case f has already been released.
func (m *Mailbox) Put(f *Frame) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		f.Release()
		return false
	}

	stale := m.frame
	m.frame = f
	m.cond.Signal()
	m.mu.Unlock()

	if stale != nil {
		m.dropped.Add(1)
		stale.Release()
	}
	return true
}

// Take blocks until a frame is available or the mailbox is closed.
// The caller owns the returned reference.
func (m *Mailbox) Take() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil, ErrMailboxClosed
	}

	f := m.frame
	m.frame = nil
	m.delivered.Add(1)
	return f, nil
}

// Close wakes any waiting consumer and releases a pending frame.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.frame
	m.frame = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	if pending != nil {
		pending.Release()
	}
}

// Stats returns the delivered and dropped counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Delivered: m.delivered.Load(),
		Dropped:   m.dropped.Load(),
	}
}
