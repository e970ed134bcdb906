package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/fabric"
	"github.com/google/uuid"
)

// Correlator matches replies to outstanding requests by correlation tag. It
// keeps one completion channel per outstanding request, so any number of
// requests, including several for the same account, can be in flight at once.
type Correlator struct {
	sync.Mutex
	pending map[string]chan fabric.Message
}

// NewCorrelator ...
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]chan fabric.Message),
	}
}

// NewTag returns a correlation tag unique per request.
func NewTag(kind, key string) string {
	return fmt.Sprintf("%s-%s-%s", kind, key, uuid.New())
}

// Register creates the completion channel for a correlation tag. The channel
// is buffered so a resolver never blocks when the waiter has already given
// up.
func (c *Correlator) Register(tag string) chan fabric.Message {
	c.Lock()
	defer c.Unlock()

	ch := make(chan fabric.Message, 1)
	c.pending[tag] = ch

	return ch
}

// Resolve completes the request waiting on the reply's correlation tag. It
// reports false for a reply nobody is waiting for, which includes replies
// arriving after their request timed out.
func (c *Correlator) Resolve(msg fabric.Message) bool {
	c.Lock()
	ch, ok := c.pending[msg.InReplyTo]
	if ok {
		delete(c.pending, msg.InReplyTo)
	}
	c.Unlock()

	if !ok {
		return false
	}

	ch <- msg

	return true
}

// Await blocks on the completion channel until a reply arrives or the timeout
// elapses. On timeout the pending entry is cleared, so a late, stale reply
// cannot be mistaken for the answer to a new request with a reused key.
func (c *Correlator) Await(tag string, ch chan fabric.Message, timeout time.Duration) (fabric.Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(timeout):
		c.Lock()
		delete(c.pending, tag)
		c.Unlock()

		return fabric.Message{}, common.NewBankErr("client", common.RequestTimedOut, tag)
	}
}

// Outstanding returns the number of requests still waiting for a reply.
func (c *Correlator) Outstanding() int {
	c.Lock()
	defer c.Unlock()

	return len(c.pending)
}
