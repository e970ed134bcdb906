package fabric

import (
	"sync"
	"time"
)

// Mailbox is a per-identity message queue. Messages not matching an active
// predicate remain queued for later consumers. Matching and removal happen
// under one lock, so two concurrent predicate consumers can never dispatch the
// same message twice.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
	closed bool
}

// NewMailbox ...
func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}),
	}
}

// Deposit appends a message to the queue and wakes any blocked consumers. It
// never blocks the caller. Deposits on a closed mailbox are dropped.
func (mb *Mailbox) Deposit(msg Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}

	mb.queue = append(mb.queue, msg)

	// closing the channel broadcasts to every waiter
	close(mb.notify)
	mb.notify = make(chan struct{})
}

// Receive is a non-blocking poll returning the oldest message matching the
// predicate, or false if none is queued. A nil predicate matches everything.
func (mb *Mailbox) Receive(p Predicate) (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.take(p)
}

// ReceiveBlocking suspends the caller until a matching message arrives or the
// timeout elapses, returning false on timeout.
func (mb *Mailbox) ReceiveBlocking(p Predicate, timeout time.Duration) (Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		mb.mu.Lock()
		if msg, ok := mb.take(p); ok {
			mb.mu.Unlock()
			return msg, true
		}
		if mb.closed {
			mb.mu.Unlock()
			return Message{}, false
		}
		wait := mb.notify
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return Message{}, false
		}
	}
}

// take removes and returns the oldest matching message. Callers must hold the
// lock.
func (mb *Mailbox) take(p Predicate) (Message, bool) {
	for i, msg := range mb.queue {
		if p == nil || p(msg) {
			mb.queue = append(mb.queue[:i], mb.queue[i+1:]...)
			return msg, true
		}
	}
	return Message{}, false
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return len(mb.queue)
}

// Close permanently disables the mailbox and unblocks pending consumers.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}

	mb.closed = true
	close(mb.notify)
}
