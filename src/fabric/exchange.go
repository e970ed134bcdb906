package fabric

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewAddr returns a random identity for nodes that do not provide a moniker.
func NewAddr() string {
	return uuid.New().String()
}

// Exchange routes messages between the mailboxes of a process group. Delivery
// is best-effort and in-process: a receiver with no registered mailbox is
// skipped. Messages from a single sender to a single receiver are delivered in
// send order; interleavings across senders are unordered.
type Exchange struct {
	sync.RWMutex
	mailboxes map[string]*Mailbox
	forward   func(Message)
	logger    *logrus.Entry
}

// NewExchange ...
func NewExchange(logger *logrus.Entry) *Exchange {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Exchange{
		mailboxes: make(map[string]*Mailbox),
		logger:    logger.WithField("component", "fabric"),
	}
}

// Register creates (or returns) the mailbox for an identity.
func (e *Exchange) Register(identity string) *Mailbox {
	e.Lock()
	defer e.Unlock()

	if mb, ok := e.mailboxes[identity]; ok {
		return mb
	}

	mb := NewMailbox()
	e.mailboxes[identity] = mb

	return mb
}

// Mailbox returns the mailbox registered for an identity.
func (e *Exchange) Mailbox(identity string) (*Mailbox, bool) {
	e.RLock()
	defer e.RUnlock()

	mb, ok := e.mailboxes[identity]

	return mb, ok
}

// SetForwarder installs the hook through which messages for receivers not
// registered in this process leave it, typically a relay. Without one, such
// messages are dropped.
func (e *Exchange) SetForwarder(forward func(Message)) {
	e.Lock()
	defer e.Unlock()

	e.forward = forward
}

// Send enqueues the message for each receiver without blocking the sender.
// Receivers without a local mailbox are handed to the forwarder in one batch.
// There is no delivery guarantee beyond best-effort delivery.
func (e *Exchange) Send(msg Message) {
	e.RLock()

	remote := []string{}
	for _, receiver := range msg.Receivers {
		mb, ok := e.mailboxes[receiver]
		if !ok {
			remote = append(remote, receiver)
			continue
		}
		mb.Deposit(msg)
	}

	forward := e.forward

	e.RUnlock()

	if len(remote) == 0 {
		return
	}

	if forward == nil {
		e.logger.WithFields(logrus.Fields{
			"receivers":    remote,
			"conversation": msg.ConversationID,
		}).Debug("Dropping message for unknown receivers")
		return
	}

	out := msg
	out.Receivers = remote
	forward(out)
}

// Deliver deposits the message into local mailboxes only, never invoking the
// forwarder. The relay feeds inbound traffic through here so two relays
// cannot bounce a message back and forth.
func (e *Exchange) Deliver(msg Message) {
	e.RLock()
	defer e.RUnlock()

	for _, receiver := range msg.Receivers {
		mb, ok := e.mailboxes[receiver]
		if !ok {
			e.logger.WithFields(logrus.Fields{
				"receiver":     receiver,
				"conversation": msg.ConversationID,
			}).Debug("Dropping inbound message for unknown receiver")
			continue
		}
		mb.Deposit(msg)
	}
}

// Unregister closes and removes an identity's mailbox.
func (e *Exchange) Unregister(identity string) {
	e.Lock()
	defer e.Unlock()

	if mb, ok := e.mailboxes[identity]; ok {
		mb.Close()
		delete(e.mailboxes, identity)
	}
}

// Close closes every mailbox.
func (e *Exchange) Close() {
	e.Lock()
	defer e.Unlock()

	for id, mb := range e.mailboxes {
		mb.Close()
		delete(e.mailboxes, id)
	}
}
