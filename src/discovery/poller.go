// Package discovery implements the bounded-retry polling used wherever a
// dependency is looked up before it is guaranteed to exist. The combinator is
// written once and parameterized per use site.
package discovery

import (
	"sync"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/bancanet/banca/src/directory"
	"github.com/sirupsen/logrus"
)

// Default polling parameters.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 10
)

// LookupFunc performs one directory lookup.
type LookupFunc func() []directory.ServiceRecord

// Poller retries a lookup on a fixed backoff interval, up to a maximum
// attempt count. On the first non-empty result it invokes onSuccess exactly
// once and stops; on exhaustion it invokes onExhausted and stops. It runs on
// its own goroutine, so it never blocks the caller's other work.
type Poller struct {
	lookup      LookupFunc
	interval    time.Duration
	maxAttempts int
	onSuccess   func([]directory.ServiceRecord)
	onExhausted func()

	logger   *logrus.Entry
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller ...
func NewPoller(
	lookup LookupFunc,
	interval time.Duration,
	maxAttempts int,
	onSuccess func([]directory.ServiceRecord),
	onExhausted func(),
	logger *logrus.Entry,
) *Poller {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Poller{
		lookup:      lookup,
		interval:    interval,
		maxAttempts: maxAttempts,
		onSuccess:   onSuccess,
		onExhausted: onExhausted,
		logger:      logger.WithField("component", "discovery"),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the polling loop in the background.
func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	for attempts := 0; attempts < p.maxAttempts; attempts++ {
		records := p.lookup()
		if len(records) > 0 {
			p.onSuccess(records)
			return
		}

		p.logger.WithField("attempt", attempts+1).Debug("Lookup empty, retrying")

		select {
		case <-time.After(p.interval):
		case <-p.stopCh:
			return
		}
	}

	if p.onExhausted != nil {
		p.onExhausted()
	}
}

// Stop cancels the polling loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Wait is the synchronous form of the combinator, for callers already running
// on their own goroutine. It returns DiscoveryExhausted after maxAttempts
// empty lookups.
func Wait(lookup LookupFunc, interval time.Duration, maxAttempts int) ([]directory.ServiceRecord, error) {
	for attempts := 0; attempts < maxAttempts; attempts++ {
		records := lookup()
		if len(records) > 0 {
			return records, nil
		}

		if attempts < maxAttempts-1 {
			time.Sleep(interval)
		}
	}

	return nil, common.NewBankErr("discovery", common.DiscoveryExhausted, "")
}
